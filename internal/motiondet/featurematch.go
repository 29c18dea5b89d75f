package motiondet

import (
	"image"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
)

const (
	fastRadius    = 3
	fastArc       = 12 // contiguous circle pixels required
	matchPatch    = 4  // half-size of the SAD descriptor patch
	matchRadius   = 48 // search radius for correspondences
	minHomography = 8  // matches needed for a projective fit
	clusterDist   = 30.0
	minClusterPts = 2
	residualPad   = 6
)

// circle16 is the Bresenham circle of radius 3 used by the corner test.
var circle16 = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// featureMatch estimates a global homography between consecutive frames from
// sparse corner correspondences, then reports correspondences that do not
// conform to it as object motion. The homography compensates detections for
// camera pan before confidence scoring.
type featureMatch struct {
	cfg    Config
	logger *zap.SugaredLogger

	prev        *image.Gray
	prevCorners []corner
}

type corner struct {
	pt    image.Point
	score int
}

type match struct {
	from, to image.Point
}

func newFeatureMatch(cfg Config, logger *zap.SugaredLogger) *featureMatch {
	return &featureMatch{cfg: cfg, logger: logger}
}

func (d *featureMatch) Algorithm() Algorithm { return FeatureMatch }

func (d *featureMatch) Reset() {
	d.prev = nil
	d.prevCorners = nil
}

func (d *featureMatch) Detect(f frame.Frame) (detection.Set, error) {
	pf := d.cfg.procFrame(f)
	gray := pf.Gray()
	corners := fastCorners(gray, d.cfg.FeatureThreshold, d.cfg.MaxFeatures)

	prev, prevCorners := d.prev, d.prevCorners
	d.prev, d.prevCorners = gray, corners
	if prev == nil || prev.Bounds() != gray.Bounds() {
		return detection.NewSet(pf.Resolution, f.Timestamp), nil
	}

	matches := matchCorners(prev, gray, prevCorners, corners)
	set := detection.NewSet(pf.Resolution, f.Timestamp)
	if len(matches) == 0 {
		return set, nil
	}

	h := estimateHomography(matches)
	set.Homography = &h

	// Residual motion: correspondences that the camera-motion estimate does
	// not explain.
	type residual struct {
		at     image.Point
		vx, vy float64
	}
	var residuals []residual
	for _, m := range matches {
		px, py := h.Apply(float64(m.from.X), float64(m.from.Y))
		rx := float64(m.to.X) - px
		ry := float64(m.to.Y) - py
		if math.Hypot(rx, ry) > d.cfg.ResidualThreshold {
			residuals = append(residuals, residual{at: m.to, vx: rx, vy: ry})
		}
	}
	if len(residuals) == 0 {
		return set, nil
	}

	// Greedy proximity clustering of residual points.
	assigned := make([]int, len(residuals))
	for i := range assigned {
		assigned[i] = -1
	}
	nClusters := 0
	for i := range residuals {
		if assigned[i] >= 0 {
			continue
		}
		assigned[i] = nClusters
		for j := i + 1; j < len(residuals); j++ {
			if assigned[j] >= 0 {
				continue
			}
			dx := float64(residuals[i].at.X - residuals[j].at.X)
			dy := float64(residuals[i].at.Y - residuals[j].at.Y)
			if math.Hypot(dx, dy) <= clusterDist {
				assigned[j] = nClusters
			}
		}
		nClusters++
	}

	bounds := pf.Resolution.Bounds()
	for c := 0; c < nClusters; c++ {
		var pts []residual
		for i, r := range residuals {
			if assigned[i] == c {
				pts = append(pts, r)
			}
		}
		if len(pts) < minClusterPts {
			continue
		}
		box := image.Rect(pts[0].at.X, pts[0].at.Y, pts[0].at.X+1, pts[0].at.Y+1)
		var vx, vy float64
		for _, p := range pts {
			box = box.Union(image.Rect(p.at.X, p.at.Y, p.at.X+1, p.at.Y+1))
			vx += p.vx
			vy += p.vy
		}
		vx /= float64(len(pts))
		vy /= float64(len(pts))
		box = box.Inset(-residualPad).Intersect(bounds)
		area := box.Dx() * box.Dy()
		if area < d.cfg.MinArea {
			continue
		}
		if d.cfg.MaxArea > 0 && area > d.cfg.MaxArea {
			continue
		}
		det := detection.Detection{
			Box:        box,
			Centroid:   image.Pt(box.Min.X+box.Dx()/2, box.Min.Y+box.Dy()/2),
			Area:       area,
			Confidence: clamp01(float64(len(pts)) / 8),
			Kind:       detection.KindMotion,
			Timestamp:  f.Timestamp,
		}
		det.SetMeta(detection.MetaVelocityX, vx)
		det.SetMeta(detection.MetaVelocityY, vy)
		set.Detections = append(set.Detections, det)
	}

	// Largest candidates first, then the per-call cap.
	sort.SliceStable(set.Detections, func(i, j int) bool {
		return set.Detections[i].Area > set.Detections[j].Area
	})
	if d.cfg.MaxDetections > 0 && len(set.Detections) > d.cfg.MaxDetections {
		set.Detections = set.Detections[:d.cfg.MaxDetections]
	}
	return set, nil
}

// fastCorners runs a segment-test corner detector and thins the result with
// greedy non-maximum suppression on the corner score.
func fastCorners(img *image.Gray, thresh uint8, maxCorners int) []corner {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var found []corner
	for y := fastRadius; y < h-fastRadius; y++ {
		for x := fastRadius; x < w-fastRadius; x++ {
			c := img.Pix[y*img.Stride+x]
			if score, ok := segmentTest(img, x, y, c, thresh); ok {
				found = append(found, corner{pt: image.Pt(x, y), score: score})
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].score > found[j].score })
	var kept []corner
	const minDist = 6
	for _, c := range found {
		ok := true
		for _, k := range kept {
			dx, dy := c.pt.X-k.pt.X, c.pt.Y-k.pt.Y
			if dx*dx+dy*dy < minDist*minDist {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
			if len(kept) >= maxCorners {
				break
			}
		}
	}
	return kept
}

// segmentTest checks for fastArc contiguous circle pixels all brighter or all
// darker than the center by thresh, returning the summed deviation as the
// corner score.
func segmentTest(img *image.Gray, x, y int, center, thresh uint8) (int, bool) {
	var brighter, darker [16]bool
	score := 0
	for i, off := range circle16 {
		v := img.Pix[(y+off.Y)*img.Stride+(x+off.X)]
		dv := int(v) - int(center)
		if dv >= int(thresh) {
			brighter[i] = true
			score += dv
		} else if -dv >= int(thresh) {
			darker[i] = true
			score -= dv
		}
	}
	if hasArc(brighter) || hasArc(darker) {
		return score, true
	}
	return 0, false
}

func hasArc(flags [16]bool) bool {
	run := 0
	// Walk twice around to catch arcs crossing the seam.
	for i := 0; i < 32; i++ {
		if flags[i%16] {
			run++
			if run >= fastArc {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// matchCorners pairs previous-frame corners with the nearest current-frame
// corner by patch SAD within a search radius.
func matchCorners(prev, cur *image.Gray, from, to []corner) []match {
	var out []match
	for _, fc := range from {
		best := -1
		bestSAD := math.MaxInt64
		for i, tc := range to {
			dx, dy := tc.pt.X-fc.pt.X, tc.pt.Y-fc.pt.Y
			if dx*dx+dy*dy > matchRadius*matchRadius {
				continue
			}
			sad, ok := patchSAD(prev, cur, fc.pt, tc.pt)
			if ok && sad < bestSAD {
				bestSAD = sad
				best = i
			}
		}
		if best >= 0 {
			out = append(out, match{from: fc.pt, to: to[best].pt})
		}
	}
	return out
}

func patchSAD(a, b *image.Gray, pa, pb image.Point) (int, bool) {
	ba, bb := a.Bounds(), b.Bounds()
	if pa.X < matchPatch || pa.Y < matchPatch || pa.X >= ba.Dx()-matchPatch || pa.Y >= ba.Dy()-matchPatch {
		return 0, false
	}
	if pb.X < matchPatch || pb.Y < matchPatch || pb.X >= bb.Dx()-matchPatch || pb.Y >= bb.Dy()-matchPatch {
		return 0, false
	}
	sad := 0
	for dy := -matchPatch; dy <= matchPatch; dy++ {
		for dx := -matchPatch; dx <= matchPatch; dx++ {
			va := a.Pix[(pa.Y+dy)*a.Stride+pa.X+dx]
			vb := b.Pix[(pb.Y+dy)*b.Stride+pb.X+dx]
			dv := int(va) - int(vb)
			if dv < 0 {
				dv = -dv
			}
			sad += dv
		}
	}
	return sad, true
}

// estimateHomography fits a projective transform to the matches. With fewer
// than minHomography pairs it falls back to the median translation, which is
// the dominant camera motion for aerial pans.
func estimateHomography(matches []match) detection.Homography {
	if len(matches) < minHomography {
		return medianTranslation(matches)
	}
	h, ok := fitDLT(matches)
	if !ok {
		return medianTranslation(matches)
	}
	// One trimming pass: refit without the worst-fitting quarter.
	type scored struct {
		m   match
		res float64
	}
	ss := make([]scored, len(matches))
	for i, m := range matches {
		px, py := h.Apply(float64(m.from.X), float64(m.from.Y))
		ss[i] = scored{m: m, res: math.Hypot(float64(m.to.X)-px, float64(m.to.Y)-py)}
	}
	sort.SliceStable(ss, func(i, j int) bool { return ss[i].res < ss[j].res })
	keep := len(ss) * 3 / 4
	if keep >= minHomography {
		trimmed := make([]match, keep)
		for i := 0; i < keep; i++ {
			trimmed[i] = ss[i].m
		}
		if h2, ok := fitDLT(trimmed); ok {
			return h2
		}
	}
	return h
}

func medianTranslation(matches []match) detection.Homography {
	h := detection.Identity()
	if len(matches) == 0 {
		return h
	}
	dxs := make([]float64, len(matches))
	dys := make([]float64, len(matches))
	for i, m := range matches {
		dxs[i] = float64(m.to.X - m.from.X)
		dys[i] = float64(m.to.Y - m.from.Y)
	}
	sort.Float64s(dxs)
	sort.Float64s(dys)
	h[0][2] = dxs[len(dxs)/2]
	h[1][2] = dys[len(dys)/2]
	return h
}

// fitDLT solves the direct linear transform least-squares system with an SVD;
// the homography is the right singular vector of the smallest singular value.
// Raw pixel coordinates make the system badly scaled, so both point sets are
// Hartley-normalized first (centered on their centroid, scaled to mean
// distance sqrt 2) and the solution is mapped back through the two transforms.
func fitDLT(matches []match) (detection.Homography, bool) {
	tf, ok := normalizingTransform(matches, func(m match) image.Point { return m.from })
	if !ok {
		return detection.Identity(), false
	}
	tt, ok := normalizingTransform(matches, func(m match) image.Point { return m.to })
	if !ok {
		return detection.Identity(), false
	}

	n := len(matches)
	a := mat.NewDense(2*n, 9, nil)
	for i, m := range matches {
		x, y := tf.apply(m.from)
		u, v := tt.apply(m.to)
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y, -u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y, -v})
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return detection.Identity(), false
	}
	var v mat.Dense
	svd.VTo(&v)
	// Right singular vector paired with the smallest singular value.
	col := v.ColView(8)
	var hn detection.Homography
	for i := 0; i < 9; i++ {
		hn[i/3][i%3] = col.AtVec(i)
	}

	h := mul3(mul3(tt.inverse(), hn), tf.matrix())
	h22 := h[2][2]
	if math.Abs(h22) < 1e-12 {
		return detection.Identity(), false
	}
	for i := range h {
		for j := range h[i] {
			h[i][j] /= h22
		}
	}
	return h, true
}

// similarity is the conditioning transform of one point set: translate the
// centroid to the origin, then scale so the mean distance becomes sqrt 2.
type similarity struct {
	s, cx, cy float64
}

func (t similarity) apply(p image.Point) (float64, float64) {
	return (float64(p.X) - t.cx) * t.s, (float64(p.Y) - t.cy) * t.s
}

func (t similarity) matrix() detection.Homography {
	return detection.Homography{{t.s, 0, -t.s * t.cx}, {0, t.s, -t.s * t.cy}, {0, 0, 1}}
}

func (t similarity) inverse() detection.Homography {
	return detection.Homography{{1 / t.s, 0, t.cx}, {0, 1 / t.s, t.cy}, {0, 0, 1}}
}

func normalizingTransform(matches []match, pick func(match) image.Point) (similarity, bool) {
	n := float64(len(matches))
	var cx, cy float64
	for _, m := range matches {
		p := pick(m)
		cx += float64(p.X)
		cy += float64(p.Y)
	}
	cx /= n
	cy /= n
	var dist float64
	for _, m := range matches {
		p := pick(m)
		dist += math.Hypot(float64(p.X)-cx, float64(p.Y)-cy)
	}
	dist /= n
	if dist < 1e-9 {
		// All points coincide; no homography is recoverable.
		return similarity{}, false
	}
	return similarity{s: math.Sqrt2 / dist, cx: cx, cy: cy}, true
}

func mul3(a, b detection.Homography) detection.Homography {
	var out detection.Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}
