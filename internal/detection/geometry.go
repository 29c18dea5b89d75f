package detection

import "image"

// IoU returns the intersection-over-union of two rectangles, zero when they
// do not overlap.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}

// Homography is a 3x3 projective transform between two frames, indexed
// [row][column]. It is estimated by the feature-matching motion variant and
// used to compensate detections for camera motion.
type Homography [3][3]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Apply maps a point through the transform with a perspective divide.
func (h Homography) Apply(x, y float64) (float64, float64) {
	px := h[0][0]*x + h[0][1]*y + h[0][2]
	py := h[1][0]*x + h[1][1]*y + h[1][2]
	pz := h[2][0]*x + h[2][1]*y + h[2][2]
	if pz == 0 {
		return px, py
	}
	return px / pz, py / pz
}
