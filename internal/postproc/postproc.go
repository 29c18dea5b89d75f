package postproc

import (
	"image"

	"github.com/pkg/errors"

	"skysweep/internal/detection"
)

// Config holds the recognized post-processing options.
type Config struct {
	// EnableClustering merges detections whose boxes fall within
	// ClusterWindow pixels of each other.
	EnableClustering bool
	ClusterWindow    int

	// EnableAspectRatioFilter rejects detections with a width:height ratio
	// outside [MinAspectRatio, MaxAspectRatio]. Guards against elongated
	// artifacts such as shadows and scan lines.
	EnableAspectRatioFilter bool
	MinAspectRatio          float64
	MaxAspectRatio          float64

	// EnableTemporalVoting requires a detection to persist, by IoU overlap,
	// in at least VoteThreshold of the last WindowSize frames before it is
	// confirmed. Unconfirmed detections are emitted with confidence scaled
	// by their vote fraction unless StrictVoting withholds them entirely.
	EnableTemporalVoting bool
	WindowSize           int
	VoteThreshold        int
	VoteIoU              float64
	StrictVoting         bool
}

// DefaultConfig returns the post-processor defaults.
func DefaultConfig() Config {
	return Config{
		ClusterWindow:  40,
		MinAspectRatio: 0.2,
		MaxAspectRatio: 5,
		WindowSize:     5,
		VoteThreshold:  3,
		VoteIoU:        0.3,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.EnableClustering && c.ClusterWindow <= 0 {
		return errors.New("cluster window must be > 0")
	}
	if c.EnableAspectRatioFilter {
		if c.MinAspectRatio <= 0 || c.MaxAspectRatio <= 0 {
			return errors.New("aspect ratio bounds must be > 0")
		}
		if c.MinAspectRatio > c.MaxAspectRatio {
			return errors.New("min aspect ratio must be <= max")
		}
	}
	if c.EnableTemporalVoting {
		if c.WindowSize <= 0 {
			return errors.New("voting window must be > 0")
		}
		if c.VoteThreshold <= 0 || c.VoteThreshold > c.WindowSize {
			return errors.New("vote threshold must be in [1, window]")
		}
		if c.VoteIoU <= 0 || c.VoteIoU > 1 {
			return errors.New("vote IoU must be in (0,1]")
		}
	}
	return nil
}

// Processor applies clustering, aspect-ratio filtering and temporal voting,
// in that fixed order: voting keys on spatial identity, which must be stable
// after merging. The processor owns a ring of recent sets for voting and is
// single-owner state, one processor per pipeline instance.
type Processor struct {
	cfg     Config
	history []detection.Set // ring, oldest evicted first
}

// New constructs a processor, failing fast on invalid options.
func New(cfg Config) (*Processor, error) {
	def := DefaultConfig()
	if cfg.ClusterWindow == 0 {
		cfg.ClusterWindow = def.ClusterWindow
	}
	if cfg.MinAspectRatio == 0 {
		cfg.MinAspectRatio = def.MinAspectRatio
	}
	if cfg.MaxAspectRatio == 0 {
		cfg.MaxAspectRatio = def.MaxAspectRatio
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.VoteThreshold == 0 {
		cfg.VoteThreshold = def.VoteThreshold
	}
	if cfg.VoteIoU == 0 {
		cfg.VoteIoU = def.VoteIoU
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "post-processor config")
	}
	return &Processor{cfg: cfg}, nil
}

// Reset clears the temporal history.
func (p *Processor) Reset() { p.history = nil }

// Process runs the configured stages over one frame's fused set.
func (p *Processor) Process(s detection.Set) detection.Set {
	if p.cfg.EnableClustering {
		s = p.cluster(s)
	}
	if p.cfg.EnableAspectRatioFilter {
		s = p.filterAspect(s)
	}
	if p.cfg.EnableTemporalVoting {
		s = p.vote(s)
	}
	return s
}

// cluster merges detections whose boxes, grown by the cluster window, touch.
// Merging is transitive: chains of nearby detections collapse into one
// bounding detection whose confidence is the max of the merged set.
func (p *Processor) cluster(s detection.Set) detection.Set {
	n := len(s.Detections)
	if n < 2 {
		return s
	}
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	half := p.cfg.ClusterWindow / 2
	for i := 0; i < n; i++ {
		gi := s.Detections[i].Box.Inset(-half)
		for j := i + 1; j < n; j++ {
			if gi.Overlaps(s.Detections[j].Box.Inset(-half)) {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	out := detection.NewSet(s.Space, s.Timestamp)
	out.Homography = s.Homography
	merged := make(map[int]*detection.Detection)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		root := find(i)
		d := s.Detections[i]
		if cur, ok := merged[root]; ok {
			cur.Box = cur.Box.Union(d.Box)
			cur.Area += d.Area
			if d.Confidence > cur.Confidence {
				cur.Confidence = d.Confidence
			}
			if cur.Color == nil {
				cur.Color = d.Color
			}
			for k, v := range d.Meta {
				if _, exists := cur.Meta[k]; !exists {
					cur.SetMeta(k, v)
				}
			}
			cur.Centroid = cur.Box.Min.Add(cur.Box.Max).Div(2)
		} else {
			cp := d
			cp.Contour = nil // contours are meaningless after a merge
			cp.Meta = cloneMeta(d.Meta)
			merged[root] = &cp
			order = append(order, root)
		}
	}
	for _, root := range order {
		out.Detections = append(out.Detections, *merged[root])
	}
	return out
}

func (p *Processor) filterAspect(s detection.Set) detection.Set {
	out := detection.NewSet(s.Space, s.Timestamp)
	out.Homography = s.Homography
	for _, d := range s.Detections {
		hgt := d.Box.Dy()
		if hgt == 0 {
			continue
		}
		ratio := float64(d.Box.Dx()) / float64(hgt)
		if ratio < p.cfg.MinAspectRatio || ratio > p.cfg.MaxAspectRatio {
			continue
		}
		out.Detections = append(out.Detections, d)
	}
	return out
}

// vote counts, for each current detection, how many of the recent frames
// contain an overlapping detection (the current frame included). Confirmed
// detections pass through unchanged; unconfirmed ones are scaled or, in
// strict mode, withheld.
func (p *Processor) vote(s detection.Set) detection.Set {
	p.history = append(p.history, s)
	if len(p.history) > p.cfg.WindowSize {
		p.history = p.history[1:]
	}

	out := detection.NewSet(s.Space, s.Timestamp)
	out.Homography = s.Homography
	for _, d := range s.Detections {
		votes := 0
		for _, past := range p.history {
			if overlapsSet(d.Box, past, p.cfg.VoteIoU) {
				votes++
			}
		}
		confirmed := votes >= p.cfg.VoteThreshold
		if !confirmed && p.cfg.StrictVoting {
			continue
		}
		nd := d
		nd.Meta = cloneMeta(d.Meta)
		nd.SetMeta(detection.MetaVotes, float64(votes))
		if !confirmed {
			nd.Confidence *= float64(votes) / float64(p.cfg.VoteThreshold)
		}
		out.Detections = append(out.Detections, nd)
	}
	return out
}

// cloneMeta detaches a detection's metadata map before any stage writes to
// it; input sets are handed off by the caller and kept in the voting history,
// so they must never be mutated in place.
func cloneMeta(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func overlapsSet(box image.Rectangle, s detection.Set, iou float64) bool {
	for _, d := range s.Detections {
		if detection.IoU(box, d.Box) >= iou {
			return true
		}
	}
	return false
}
