package motiondet

import (
	"image"
	"math"

	"go.uber.org/zap"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
	"skysweep/internal/imaging"
)

// minBlockTexture skips near-uniform blocks whose match is ambiguous.
const minBlockTexture = 6.0

// opticalFlow computes a dense block-matching flow field between consecutive
// frames. Blocks whose flow magnitude passes the threshold are clustered into
// motion regions; each region carries its mean flow as a velocity vector.
type opticalFlow struct {
	cfg    Config
	logger *zap.SugaredLogger
	prev   *image.Gray
}

func newOpticalFlow(cfg Config, logger *zap.SugaredLogger) *opticalFlow {
	return &opticalFlow{cfg: cfg, logger: logger}
}

func (d *opticalFlow) Algorithm() Algorithm { return OpticalFlow }

func (d *opticalFlow) Reset() { d.prev = nil }

func (d *opticalFlow) Detect(f frame.Frame) (detection.Set, error) {
	pf := d.cfg.procFrame(f)
	gray := pf.Gray()
	prev := d.prev
	d.prev = gray
	if prev == nil || prev.Bounds() != gray.Bounds() {
		return detection.NewSet(pf.Resolution, f.Timestamp), nil
	}

	w, h := pf.Resolution.Width, pf.Resolution.Height
	bs := d.cfg.FlowBlockSize
	bw, bh := w/bs, h/bs
	if bw == 0 || bh == 0 {
		return detection.NewSet(pf.Resolution, f.Timestamp), nil
	}

	// Forward flow: each textured block of the previous frame is searched for
	// in the current frame.
	flowX := make([]float64, bw*bh)
	flowY := make([]float64, bw*bh)
	moving := make([]bool, bw*bh)
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			ox, oy := bx*bs, by*bs
			if blockStdDev(prev, ox, oy, bs) < minBlockTexture {
				continue
			}
			dx, dy := d.matchBlock(prev, gray, ox, oy, bs, w, h)
			mag := math.Hypot(float64(dx), float64(dy))
			i := by*bw + bx
			flowX[i], flowY[i] = float64(dx), float64(dy)
			if mag >= d.cfg.FlowMinMagnitude {
				moving[i] = true
			}
		}
	}

	// Rasterize moving blocks into a pixel mask and extract regions.
	mask := imaging.NewMask(w, h)
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			if !moving[by*bw+bx] {
				continue
			}
			for yy := by * bs; yy < (by+1)*bs; yy++ {
				for xx := bx * bs; xx < (bx+1)*bs; xx++ {
					mask.Set(xx, yy, 1)
				}
			}
		}
	}

	regions := imaging.FindRegions(mask)
	set := regionsToSet(regions, d.cfg, pf.Resolution, f.Timestamp, func(r imaging.Region) detection.Detection {
		// Mean flow over the moving blocks inside the region.
		var sx, sy float64
		n := 0
		for by := r.Box.Min.Y / bs; by <= (r.Box.Max.Y-1)/bs && by < bh; by++ {
			for bx := r.Box.Min.X / bs; bx <= (r.Box.Max.X-1)/bs && bx < bw; bx++ {
				i := by*bw + bx
				if moving[i] {
					sx += flowX[i]
					sy += flowY[i]
					n++
				}
			}
		}
		vx, vy := 0.0, 0.0
		if n > 0 {
			vx, vy = sx/float64(n), sy/float64(n)
		}
		mag := math.Hypot(vx, vy)
		det := detection.Detection{
			Box:        r.Box,
			Centroid:   r.Centroid,
			Area:       r.Area,
			Confidence: clamp01(mag / (4 * d.cfg.FlowMinMagnitude)),
			Kind:       detection.KindMotion,
			Timestamp:  f.Timestamp,
			Contour:    r.Contour,
		}
		det.SetMeta(detection.MetaVelocityX, vx)
		det.SetMeta(detection.MetaVelocityY, vy)
		return det
	})
	return set, nil
}

// matchBlock finds the displacement minimizing the sum of absolute
// differences, preferring the smallest displacement on ties so uniform areas
// report zero flow.
func (d *opticalFlow) matchBlock(prev, cur *image.Gray, ox, oy, bs, w, h int) (int, int) {
	r := d.cfg.FlowSearchRadius
	bestSAD := math.MaxInt64
	bestDist := math.MaxInt64
	bestDX, bestDY := 0, 0
	for dy := -r; dy <= r; dy++ {
		ty := oy + dy
		if ty < 0 || ty+bs > h {
			continue
		}
		for dx := -r; dx <= r; dx++ {
			tx := ox + dx
			if tx < 0 || tx+bs > w {
				continue
			}
			sad := blockSAD(prev, cur, ox, oy, tx, ty, bs)
			dist := dx*dx + dy*dy
			if sad < bestSAD || (sad == bestSAD && dist < bestDist) {
				bestSAD, bestDist = sad, dist
				bestDX, bestDY = dx, dy
			}
		}
	}
	return bestDX, bestDY
}

func blockSAD(a, b *image.Gray, ax, ay, bx, by, bs int) int {
	sad := 0
	for y := 0; y < bs; y++ {
		ra := a.Pix[(ay+y)*a.Stride+ax : (ay+y)*a.Stride+ax+bs]
		rb := b.Pix[(by+y)*b.Stride+bx : (by+y)*b.Stride+bx+bs]
		for x := 0; x < bs; x++ {
			dv := int(ra[x]) - int(rb[x])
			if dv < 0 {
				dv = -dv
			}
			sad += dv
		}
	}
	return sad
}

func blockStdDev(img *image.Gray, ox, oy, bs int) float64 {
	var sum, sumSq float64
	n := float64(bs * bs)
	for y := 0; y < bs; y++ {
		row := img.Pix[(oy+y)*img.Stride+ox : (oy+y)*img.Stride+ox+bs]
		for x := 0; x < bs; x++ {
			v := float64(row[x])
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
