package colordet

import (
	"image/color"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
	"skysweep/internal/imaging"
)

// rareColor quantizes the frame's colors into a coarse histogram and flags
// pixels belonging to statistically rare bins. The rarity threshold is the
// configured percentile of the nonzero bin counts, capped at 5% of the frame
// so a busy histogram cannot inflate it. The zero bin is never marked rare:
// it aggregates underexposed background and sensor black.
type rareColor struct {
	cfg    Config
	logger *zap.SugaredLogger
}

func newRareColor(cfg Config, logger *zap.SugaredLogger) *rareColor {
	return &rareColor{cfg: cfg, logger: logger}
}

func (d *rareColor) Variant() Variant { return RareColor }

func (d *rareColor) Reset() {}

func (d *rareColor) Detect(f frame.Frame) (detection.Set, error) {
	af := d.cfg.analysisFrame(f)
	w, h := af.Resolution.Width, af.Resolution.Height
	img := af.Image
	bits := d.cfg.QuantizationBits
	levels := 1 << bits
	hist := make([]int, levels*levels*levels)

	bins := make([]int32, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			bin := imaging.QuantizeRGB(row[x*4], row[x*4+1], row[x*4+2], bits)
			bins[y*w+x] = int32(bin)
			hist[bin]++
		}
	}

	total := w * h
	threshold := d.rarityThreshold(hist, total)

	rare := make([]bool, len(hist))
	for bin, count := range hist {
		if bin == 0 {
			continue
		}
		if count > 0 && float64(count) <= threshold {
			rare[bin] = true
		}
	}

	mask := imaging.NewMask(w, h)
	for i, bin := range bins {
		if rare[bin] {
			mask.Pix[i] = 1
		}
	}

	set := maskToSet(mask, d.cfg, af.Resolution, f.Timestamp, func(r imaging.Region) detection.Detection {
		// Rarity of the region is the mean rarity of its pixels' bins.
		var sum float64
		n := 0
		for yy := r.Box.Min.Y; yy < r.Box.Max.Y; yy++ {
			for xx := r.Box.Min.X; xx < r.Box.Max.X; xx++ {
				if mask.Get(xx, yy) == 0 {
					continue
				}
				count := hist[bins[yy*w+xx]]
				sum += 1 - float64(count)/float64(total)
				n++
			}
		}
		rarity := 0.0
		if n > 0 {
			rarity = sum / float64(n)
		}
		// Sample the region's color at its centroid.
		off := img.PixOffset(r.Centroid.X, r.Centroid.Y)
		sample := &color.RGBA{R: img.Pix[off], G: img.Pix[off+1], B: img.Pix[off+2], A: 255}
		det := detection.Detection{
			Box:        r.Box,
			Centroid:   r.Centroid,
			Area:       r.Area,
			Confidence: clamp01(rarity * 2),
			Kind:       detection.KindColorAnomaly,
			Timestamp:  f.Timestamp,
			Color:      sample,
			Contour:    r.Contour,
		}
		det.SetMeta(detection.MetaRarity, rarity)
		return det
	})
	return set, nil
}

// rarityThreshold computes min(percentile(nonzero bin counts, P), 0.05*total).
func (d *rareColor) rarityThreshold(hist []int, total int) float64 {
	var nonzero []float64
	for _, c := range hist {
		if c > 0 {
			nonzero = append(nonzero, float64(c))
		}
	}
	if len(nonzero) == 0 {
		return 0
	}
	sort.Float64s(nonzero)
	p := stat.Quantile(d.cfg.RarityPercentile/100, stat.Empirical, nonzero, nil)
	limit := 0.05 * float64(total)
	if p > limit {
		return limit
	}
	return p
}
