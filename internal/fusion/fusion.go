package fusion

import (
	"github.com/pkg/errors"

	"skysweep/internal/detection"
)

// Mode selects how motion and color detection sets are merged.
type Mode string

const (
	// Union concatenates both sets without deduplication.
	Union Mode = "union"
	// Intersection keeps only detections corroborated by the other set,
	// merging metadata from overlapping pairs.
	Intersection Mode = "intersection"
	// ColorPriority keeps all color detections and only the motion
	// detections that do not overlap one.
	ColorPriority Mode = "color_priority"
	// MotionPriority keeps all motion detections and only the color
	// detections that do not overlap one.
	MotionPriority Mode = "motion_priority"
)

// DefaultIoUThreshold gates what counts as overlap between the two sets.
const DefaultIoUThreshold = 0.3

// Engine merges the per-frame outputs of the motion and color detectors.
// Both inputs must already be normalized into the same coordinate space;
// mismatched spaces indicate a wiring bug upstream, not a runtime condition,
// and are rejected with an error.
type Engine struct {
	mode Mode
	iou  float64
}

// New returns an engine for the given mode. A zero IoU threshold takes the
// default.
func New(mode Mode, iouThreshold float64) (*Engine, error) {
	switch mode {
	case Union, Intersection, ColorPriority, MotionPriority:
	default:
		return nil, errors.Errorf("unsupported fusion mode %q", mode)
	}
	if iouThreshold < 0 || iouThreshold > 1 {
		return nil, errors.New("fusion IoU threshold must be in [0,1]")
	}
	if iouThreshold == 0 {
		iouThreshold = DefaultIoUThreshold
	}
	return &Engine{mode: mode, iou: iouThreshold}, nil
}

// Mode returns the configured fusion mode.
func (e *Engine) Mode() Mode { return e.mode }

// Fuse merges the two sets into one.
func (e *Engine) Fuse(motion, color detection.Set) (detection.Set, error) {
	if motion.Space != color.Space {
		return detection.Set{}, errors.Errorf(
			"fusion inputs in different coordinate spaces: %s vs %s", motion.Space, color.Space)
	}
	out := detection.NewSet(motion.Space, motion.Timestamp)
	if out.Timestamp.IsZero() {
		out.Timestamp = color.Timestamp
	}
	out.Homography = motion.Homography

	switch e.mode {
	case Union:
		out.Detections = append(out.Detections, motion.Detections...)
		out.Detections = append(out.Detections, color.Detections...)

	case Intersection:
		for _, m := range motion.Detections {
			for _, c := range color.Detections {
				if detection.IoU(m.Box, c.Box) >= e.iou {
					out.Detections = append(out.Detections, mergePair(m, c))
					break
				}
			}
		}

	case ColorPriority:
		out.Detections = append(out.Detections, color.Detections...)
		for _, m := range motion.Detections {
			if !overlapsAny(m, color.Detections, e.iou) {
				out.Detections = append(out.Detections, m)
			}
		}

	case MotionPriority:
		out.Detections = append(out.Detections, motion.Detections...)
		for _, c := range color.Detections {
			if !overlapsAny(c, motion.Detections, e.iou) {
				out.Detections = append(out.Detections, c)
			}
		}
	}
	return out, nil
}

func overlapsAny(d detection.Detection, others []detection.Detection, iou float64) bool {
	for _, o := range others {
		if detection.IoU(d.Box, o.Box) >= iou {
			return true
		}
	}
	return false
}

// mergePair combines a corroborated motion/color pair: geometry is the union
// of the boxes, confidence the maximum, and metadata from both sides is kept
// with the motion side winning key collisions.
func mergePair(m, c detection.Detection) detection.Detection {
	out := m
	out.Box = m.Box.Union(c.Box)
	out.Area = m.Area + c.Area
	if c.Confidence > out.Confidence {
		out.Confidence = c.Confidence
	}
	if out.Color == nil {
		out.Color = c.Color
	}
	merged := make(map[string]float64, len(m.Meta)+len(c.Meta))
	for k, v := range c.Meta {
		merged[k] = v
	}
	for k, v := range m.Meta {
		merged[k] = v
	}
	if len(merged) > 0 {
		out.Meta = merged
	}
	out.Centroid = out.Box.Min.Add(out.Box.Max).Div(2)
	return out
}
