package motiondet

import (
	"image"

	"go.uber.org/zap"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
	"skysweep/internal/imaging"
)

// frameDiff thresholds the absolute difference between consecutive grayscale
// frames. The first frame after construction or Reset only primes the
// reference and yields an empty set.
type frameDiff struct {
	cfg    Config
	logger *zap.SugaredLogger
	prev   *image.Gray
}

func newFrameDiff(cfg Config, logger *zap.SugaredLogger) *frameDiff {
	return &frameDiff{cfg: cfg, logger: logger}
}

func (d *frameDiff) Algorithm() Algorithm { return FrameDiff }

func (d *frameDiff) Reset() { d.prev = nil }

func (d *frameDiff) Detect(f frame.Frame) (detection.Set, error) {
	pf := d.cfg.procFrame(f)
	gray := pf.Gray()
	prev := d.prev
	d.prev = gray
	if prev == nil || prev.Bounds() != gray.Bounds() {
		return detection.NewSet(pf.Resolution, f.Timestamp), nil
	}

	w, h := pf.Resolution.Width, pf.Resolution.Height
	mask := imaging.NewMask(w, h)
	diff := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		cur := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		old := prev.Pix[y*prev.Stride : y*prev.Stride+w]
		row := diff[y*w:]
		for x := 0; x < w; x++ {
			dv := int(cur[x]) - int(old[x])
			if dv < 0 {
				dv = -dv
			}
			row[x] = uint8(dv)
			if uint8(dv) >= d.cfg.DiffThreshold {
				mask.Set(x, y, 1)
			}
		}
	}

	regions := imaging.FindRegions(mask)
	set := regionsToSet(regions, d.cfg, pf.Resolution, f.Timestamp, func(r imaging.Region) detection.Detection {
		// Mean delta over the region's set pixels drives confidence.
		sum, n := 0, 0
		for yy := r.Box.Min.Y; yy < r.Box.Max.Y; yy++ {
			for xx := r.Box.Min.X; xx < r.Box.Max.X; xx++ {
				if mask.Get(xx, yy) != 0 {
					sum += int(diff[yy*w+xx])
					n++
				}
			}
		}
		mean := 0.0
		if n > 0 {
			mean = float64(sum) / float64(n)
		}
		return detection.Detection{
			Box:        r.Box,
			Centroid:   r.Centroid,
			Area:       r.Area,
			Confidence: clamp01(mean / 128),
			Kind:       detection.KindMotion,
			Timestamp:  f.Timestamp,
			Contour:    r.Contour,
		}
	})
	return set, nil
}
