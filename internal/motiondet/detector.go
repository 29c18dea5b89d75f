package motiondet

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
	"skysweep/internal/imaging"
)

// Algorithm selects the motion detection variant. The variant is fixed at
// construction; switching algorithms means building a new detector because
// background models depend on continuity of their accumulated statistics.
type Algorithm string

const (
	FrameDiff    Algorithm = "frame_diff"
	MOG2         Algorithm = "mog2"
	KNN          Algorithm = "knn"
	OpticalFlow  Algorithm = "optical_flow"
	FeatureMatch Algorithm = "feature_match"
)

// Detector is implemented by all motion variants. Detect returns a set in the
// detector's processing space; callers normalize before fusion. Reset clears
// accumulated state (previous frames, background statistics).
type Detector interface {
	Algorithm() Algorithm
	Detect(f frame.Frame) (detection.Set, error)
	Reset()
}

// Config holds the recognized motion detector options. Zero values take
// algorithm-appropriate defaults; Validate rejects out-of-range settings at
// construction time.
type Config struct {
	Algorithm Algorithm

	// ProcessingResolution is the space the variant operates in. Zero means
	// the incoming frame resolution.
	ProcessingResolution frame.Resolution

	// MinArea and MaxArea filter regions by pixel count before any
	// truncation. MaxArea zero means unlimited.
	MinArea int
	MaxArea int

	// MaxDetections caps the per-call output. Candidates are pre-sorted by
	// area descending before the cap so the largest regions always survive;
	// capping a spatially-ordered list would bias output toward the top of
	// the frame.
	MaxDetections int

	// DiffThreshold is the per-pixel threshold for frame differencing and
	// for background model foreground masks.
	DiffThreshold uint8

	// WarmupFrames suppresses confidence while a background model stabilizes.
	WarmupFrames int
	// History is the adaptation window of the background models.
	History int
	// VarThreshold is the squared-distance gate, in units of variance, for
	// matching a pixel to a MOG2 mode.
	VarThreshold float64
	// KNNSamples, KNNRadius and KNNMatches tune the k-nearest-neighbor model:
	// a pixel is background if at least KNNMatches of its KNNSamples history
	// values lie within KNNRadius.
	KNNSamples int
	KNNRadius  float64
	KNNMatches int

	// FlowBlockSize and FlowSearchRadius shape the dense block-matching flow
	// field; FlowMinMagnitude thresholds which blocks count as moving.
	FlowBlockSize    int
	FlowSearchRadius int
	FlowMinMagnitude float64

	// MaxFeatures, FeatureThreshold and ResidualThreshold tune the
	// feature-matching variant. Matches deviating from the estimated camera
	// homography by more than ResidualThreshold pixels are object motion.
	MaxFeatures       int
	FeatureThreshold  uint8
	ResidualThreshold float64
}

// DefaultConfig returns the defaults for an algorithm.
func DefaultConfig(alg Algorithm) Config {
	return Config{
		Algorithm:         alg,
		MinArea:           50,
		DiffThreshold:     25,
		WarmupFrames:      30,
		History:           100,
		VarThreshold:      16,
		KNNSamples:        10,
		KNNRadius:         20,
		KNNMatches:        2,
		FlowBlockSize:     8,
		FlowSearchRadius:  7,
		FlowMinMagnitude:  1.5,
		MaxFeatures:       400,
		FeatureThreshold:  20,
		ResidualThreshold: 3,
	}
}

// Validate reports configuration errors. The pipeline must not start with an
// invalid configuration, so this is checked before any frame is processed.
func (c Config) Validate() error {
	switch c.Algorithm {
	case FrameDiff, MOG2, KNN, OpticalFlow, FeatureMatch:
	default:
		return errors.Errorf("unsupported motion algorithm %q", c.Algorithm)
	}
	if c.MinArea < 0 {
		return errors.New("min_area must be >= 0")
	}
	if c.MaxArea < 0 {
		return errors.New("max_area must be >= 0")
	}
	if c.MaxArea > 0 && c.MaxArea < c.MinArea {
		return errors.New("max_area must be >= min_area")
	}
	if c.MaxDetections < 0 {
		return errors.New("max_detections must be >= 0")
	}
	if c.ProcessingResolution.Width < 0 || c.ProcessingResolution.Height < 0 {
		return errors.New("processing resolution must be non-negative")
	}
	if c.Algorithm == KNN && c.KNNSamples > 0 && c.KNNMatches > c.KNNSamples {
		return errors.New("knn_matches must be <= knn_samples")
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Algorithm)
	if c.MinArea == 0 {
		c.MinArea = def.MinArea
	}
	if c.DiffThreshold == 0 {
		c.DiffThreshold = def.DiffThreshold
	}
	if c.WarmupFrames == 0 {
		c.WarmupFrames = def.WarmupFrames
	}
	if c.History == 0 {
		c.History = def.History
	}
	if c.VarThreshold == 0 {
		c.VarThreshold = def.VarThreshold
	}
	if c.KNNSamples == 0 {
		c.KNNSamples = def.KNNSamples
	}
	if c.KNNRadius == 0 {
		c.KNNRadius = def.KNNRadius
	}
	if c.KNNMatches == 0 {
		c.KNNMatches = def.KNNMatches
	}
	if c.FlowBlockSize == 0 {
		c.FlowBlockSize = def.FlowBlockSize
	}
	if c.FlowSearchRadius == 0 {
		c.FlowSearchRadius = def.FlowSearchRadius
	}
	if c.FlowMinMagnitude == 0 {
		c.FlowMinMagnitude = def.FlowMinMagnitude
	}
	if c.MaxFeatures == 0 {
		c.MaxFeatures = def.MaxFeatures
	}
	if c.FeatureThreshold == 0 {
		c.FeatureThreshold = def.FeatureThreshold
	}
	if c.ResidualThreshold == 0 {
		c.ResidualThreshold = def.ResidualThreshold
	}
	return c
}

// New constructs the configured variant, failing fast on invalid options.
func New(cfg Config, logger *zap.SugaredLogger) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "motion detector config")
	}
	cfg = cfg.withDefaults()
	log := logger.Named("motion").With("algorithm", string(cfg.Algorithm))
	switch cfg.Algorithm {
	case FrameDiff:
		return newFrameDiff(cfg, log), nil
	case MOG2:
		return newMOG2(cfg, log), nil
	case KNN:
		return newKNN(cfg, log), nil
	case OpticalFlow:
		return newOpticalFlow(cfg, log), nil
	case FeatureMatch:
		return newFeatureMatch(cfg, log), nil
	}
	return nil, errors.Errorf("unsupported motion algorithm %q", cfg.Algorithm)
}

// procFrame downsamples to the configured processing resolution, or returns
// the frame untouched when none is set.
func (c Config) procFrame(f frame.Frame) frame.Frame {
	if c.ProcessingResolution.Width == 0 || c.ProcessingResolution.Height == 0 {
		return f
	}
	return f.Downsample(c.ProcessingResolution)
}

// regionsToSet applies the shared area filter, sorts candidates by area
// descending, applies the per-call cap, and converts what remains into
// detections. Sorting always precedes the cap.
func regionsToSet(regions []imaging.Region, cfg Config, space frame.Resolution, ts time.Time,
	build func(imaging.Region) detection.Detection,
) detection.Set {
	set := detection.NewSet(space, ts)
	kept := regions[:0:0]
	for _, r := range regions {
		if r.Area < cfg.MinArea {
			continue
		}
		if cfg.MaxArea > 0 && r.Area > cfg.MaxArea {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Area > kept[j].Area })
	if cfg.MaxDetections > 0 && len(kept) > cfg.MaxDetections {
		kept = kept[:cfg.MaxDetections]
	}
	for _, r := range kept {
		d := build(r)
		if d.Confidence < 0 {
			d.Confidence = 0
		}
		if d.Confidence > 1 {
			d.Confidence = 1
		}
		set.Detections = append(set.Detections, d)
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
