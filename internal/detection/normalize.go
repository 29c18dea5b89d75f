package detection

import (
	"image"
	"math"

	"skysweep/internal/frame"
)

// Normalizer rescales detection sets from whatever resolution a detector
// operated at into one pipeline-wide reference space. Every set must pass
// through normalization before fusion so that sets from detectors running at
// different resolutions are never compared across mismatched coordinate
// spaces.
type Normalizer struct {
	ref frame.Resolution
}

// NewNormalizer returns a normalizer targeting the given reference space,
// conventionally the original capture resolution.
func NewNormalizer(ref frame.Resolution) Normalizer {
	return Normalizer{ref: ref}
}

// Reference returns the target space.
func (n Normalizer) Reference() frame.Resolution { return n.ref }

// Normalize returns a copy of the set rescaled into the reference space.
// Bounding boxes are clamped to frame bounds, pixel areas are scaled by the
// area ratio, and velocity metadata is rescaled alongside the geometry.
func (n Normalizer) Normalize(s Set) Set {
	if s.Space == n.ref {
		s.Space = n.ref
		return s
	}
	sx, sy := s.Space.ScaleTo(n.ref)
	bounds := n.ref.Bounds()
	out := Set{Space: n.ref, Timestamp: s.Timestamp, Homography: s.Homography}
	out.Detections = make([]Detection, 0, len(s.Detections))
	for _, d := range s.Detections {
		nd := d
		nd.Box = scaleRect(d.Box, sx, sy).Intersect(bounds)
		nd.Centroid = image.Pt(scale(d.Centroid.X, sx), scale(d.Centroid.Y, sy))
		nd.Area = int(math.Max(1, math.Round(float64(d.Area)*sx*sy)))
		if len(d.Contour) > 0 {
			nd.Contour = make([]image.Point, len(d.Contour))
			for i, p := range d.Contour {
				nd.Contour[i] = image.Pt(scale(p.X, sx), scale(p.Y, sy))
			}
		}
		if d.Meta != nil {
			nd.Meta = make(map[string]float64, len(d.Meta))
			for k, v := range d.Meta {
				nd.Meta[k] = v
			}
			if vx, ok := nd.Meta[MetaVelocityX]; ok {
				nd.Meta[MetaVelocityX] = vx * sx
			}
			if vy, ok := nd.Meta[MetaVelocityY]; ok {
				nd.Meta[MetaVelocityY] = vy * sy
			}
		}
		out.Detections = append(out.Detections, nd)
	}
	return out
}

func scale(v int, f float64) int {
	return int(math.Round(float64(v) * f))
}

func scaleRect(r image.Rectangle, sx, sy float64) image.Rectangle {
	return image.Rect(scale(r.Min.X, sx), scale(r.Min.Y, sy), scale(r.Max.X, sx), scale(r.Max.Y, sy))
}
