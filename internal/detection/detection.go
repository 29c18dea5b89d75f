package detection

import (
	"image"
	"image/color"
	"time"

	"skysweep/internal/frame"
)

// Kind tags which detector family produced a detection.
type Kind string

const (
	KindMotion       Kind = "motion"
	KindColorTarget  Kind = "color-target"
	KindColorAnomaly Kind = "color-anomaly"
)

// Well-known metadata keys. Detectors may add arbitrary keys; these are the
// ones downstream stages understand.
const (
	MetaVelocityX = "vx"     // px/frame in the set's coordinate space
	MetaVelocityY = "vy"     // px/frame in the set's coordinate space
	MetaRarity    = "rarity" // anomaly detector rarity score
	MetaVotes     = "votes"  // temporal voting hit count
)

// Detection is a single candidate region flagged by a detector. Box, Centroid
// and Contour are expressed in the coordinate space declared by the Set that
// carries the detection.
type Detection struct {
	Box        image.Rectangle
	Centroid   image.Point
	Area       int // pixel count of the underlying region
	Confidence float64
	Kind       Kind
	Timestamp  time.Time
	Color      *color.RGBA   // optional sample of the triggering color
	Contour    []image.Point // optional raw boundary
	Meta       map[string]float64
}

// SetMeta writes a metadata value, allocating the map on first use.
func (d *Detection) SetMeta(key string, v float64) {
	if d.Meta == nil {
		d.Meta = make(map[string]float64, 4)
	}
	d.Meta[key] = v
}

// GetMeta reads a metadata value.
func (d *Detection) GetMeta(key string) (float64, bool) {
	v, ok := d.Meta[key]
	return v, ok
}

// Score is the ranking key: confidence weighted by region size.
func (d Detection) Score() float64 {
	return d.Confidence * float64(d.Area)
}

// Set is the ordered sequence of detections produced for one frame, tagged
// with the coordinate space the geometry is expressed in. Sets are built
// fresh per frame and replaced, never mutated, as they cross stage
// boundaries.
type Set struct {
	Space      frame.Resolution
	Timestamp  time.Time
	Detections []Detection

	// Homography is the global camera-motion estimate for the frame, present
	// only when the feature-matching motion variant produced the set.
	Homography *Homography
}

// NewSet returns an empty set in the given space.
func NewSet(space frame.Resolution, ts time.Time) Set {
	return Set{Space: space, Timestamp: ts}
}

// Len returns the number of detections.
func (s Set) Len() int { return len(s.Detections) }

// Append returns a copy of the set with d added.
func (s Set) Append(d Detection) Set {
	s.Detections = append(s.Detections, d)
	return s
}
