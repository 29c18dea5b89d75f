package motiondet

import (
	"math"

	"go.uber.org/zap"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
	"skysweep/internal/imaging"
)

const (
	mog2Modes       = 3
	mog2InitialVar  = 225 // 15^2
	mog2MinVar      = 16  // 4^2
	mog2InitWeight  = 0.05
	backgroundRatio = 0.9
)

// mog2 maintains a small Gaussian mixture per pixel on the grayscale frame.
// Pixels that match none of the high-weight modes are foreground. Output
// confidence ramps up over the warm-up window while the mixture stabilizes.
type mog2 struct {
	cfg    Config
	logger *zap.SugaredLogger

	width, height int
	weights       []float32 // len w*h*modes
	means         []float32
	vars          []float32
	frames        int
	warmupLogged  bool
}

func newMOG2(cfg Config, logger *zap.SugaredLogger) *mog2 {
	return &mog2{cfg: cfg, logger: logger}
}

func (d *mog2) Algorithm() Algorithm { return MOG2 }

func (d *mog2) Reset() {
	d.weights = nil
	d.means = nil
	d.vars = nil
	d.frames = 0
	d.warmupLogged = false
}

// Warm reports whether the model has completed its warm-up window.
func (d *mog2) Warm() bool { return d.frames >= d.cfg.WarmupFrames }

func (d *mog2) init(w, h int) {
	d.width, d.height = w, h
	n := w * h * mog2Modes
	d.weights = make([]float32, n)
	d.means = make([]float32, n)
	d.vars = make([]float32, n)
	d.frames = 0
}

func (d *mog2) Detect(f frame.Frame) (detection.Set, error) {
	pf := d.cfg.procFrame(f)
	gray := pf.Gray()
	w, h := pf.Resolution.Width, pf.Resolution.Height
	if d.weights == nil || d.width != w || d.height != h {
		// Resolution change invalidates accumulated statistics.
		d.init(w, h)
	}
	d.frames++
	alpha := float32(1.0 / float64(d.cfg.History))
	if d.frames < d.cfg.History {
		// Faster adaptation early on, matching the shorter effective history.
		alpha = float32(1.0 / float64(d.frames))
	}

	mask := imaging.NewMask(w, h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x := 0; x < w; x++ {
			v := float32(row[x])
			base := (y*w + x) * mog2Modes
			if !d.updatePixel(base, v, alpha) {
				mask.Set(x, y, 1)
			}
		}
	}

	if !d.warmupLogged && d.Warm() {
		d.warmupLogged = true
		d.logger.Infow("background model warm-up complete", "frames", d.frames)
	}

	warmScale := clamp01(float64(d.frames) / float64(d.cfg.WarmupFrames))
	regions := imaging.FindRegions(mask.Open())
	set := regionsToSet(regions, d.cfg, pf.Resolution, f.Timestamp, func(r imaging.Region) detection.Detection {
		fill := float64(r.Area) / float64(r.Box.Dx()*r.Box.Dy())
		return detection.Detection{
			Box:        r.Box,
			Centroid:   r.Centroid,
			Area:       r.Area,
			Confidence: clamp01(0.4+0.6*fill) * warmScale,
			Kind:       detection.KindMotion,
			Timestamp:  f.Timestamp,
			Contour:    r.Contour,
		}
	})
	return set, nil
}

// updatePixel folds the observation into the pixel's mixture and reports
// whether the pixel matched a background mode.
func (d *mog2) updatePixel(base int, v, alpha float32) bool {
	matched := -1
	for m := 0; m < mog2Modes; m++ {
		i := base + m
		if d.weights[i] == 0 {
			continue
		}
		delta := v - d.means[i]
		if float64(delta*delta) < d.cfg.VarThreshold*float64(d.vars[i]) {
			matched = m
			break
		}
	}

	if matched >= 0 {
		i := base + matched
		for m := 0; m < mog2Modes; m++ {
			j := base + m
			if d.weights[j] == 0 {
				continue
			}
			if m == matched {
				d.weights[j] += alpha * (1 - d.weights[j])
			} else {
				d.weights[j] -= alpha * d.weights[j]
			}
		}
		delta := v - d.means[i]
		rho := alpha / maxf(d.weights[i], alpha)
		d.means[i] += rho * delta
		d.vars[i] += rho * (delta*delta - d.vars[i])
		if d.vars[i] < mog2MinVar {
			d.vars[i] = mog2MinVar
		}
	} else {
		// Replace the weakest mode with a new one centered on the sample.
		weakest := 0
		for m := 1; m < mog2Modes; m++ {
			if d.weights[base+m] < d.weights[base+weakest] {
				weakest = m
			}
		}
		i := base + weakest
		d.weights[i] = mog2InitWeight
		d.means[i] = v
		d.vars[i] = mog2InitialVar
	}

	d.normalizeWeights(base)
	if matched < 0 {
		return false
	}
	return d.isBackgroundMode(base, matched)
}

func (d *mog2) normalizeWeights(base int) {
	var sum float32
	for m := 0; m < mog2Modes; m++ {
		sum += d.weights[base+m]
	}
	if sum <= 0 {
		return
	}
	for m := 0; m < mog2Modes; m++ {
		d.weights[base+m] /= sum
	}
}

// isBackgroundMode reports whether the mode is among the highest-weight modes
// that together account for backgroundRatio of the total weight.
func (d *mog2) isBackgroundMode(base, mode int) bool {
	w := d.weights[base+mode]
	var above float32
	for m := 0; m < mog2Modes; m++ {
		if m != mode && d.weights[base+m] > w {
			above += d.weights[base+m]
		}
	}
	return float64(above) < backgroundRatio
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// knn keeps a ring of recent grayscale samples per pixel. A pixel is
// background when enough history samples lie within the configured radius of
// the current value. Samples are refreshed round-robin from background
// observations, unconditionally during warm-up.
type knn struct {
	cfg    Config
	logger *zap.SugaredLogger

	width, height int
	samples       []uint8 // len w*h*KNNSamples
	frames        int
	warmupLogged  bool
}

func newKNN(cfg Config, logger *zap.SugaredLogger) *knn {
	return &knn{cfg: cfg, logger: logger}
}

func (d *knn) Algorithm() Algorithm { return KNN }

func (d *knn) Reset() {
	d.samples = nil
	d.frames = 0
	d.warmupLogged = false
}

// Warm reports whether the model has completed its warm-up window.
func (d *knn) Warm() bool { return d.frames >= d.cfg.WarmupFrames }

func (d *knn) Detect(f frame.Frame) (detection.Set, error) {
	pf := d.cfg.procFrame(f)
	gray := pf.Gray()
	w, h := pf.Resolution.Width, pf.Resolution.Height
	ns := d.cfg.KNNSamples
	if d.samples == nil || d.width != w || d.height != h {
		d.width, d.height = w, h
		d.samples = make([]uint8, w*h*ns)
		d.frames = 0
		// Seed every sample from the first frame.
		for y := 0; y < h; y++ {
			row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
			for x := 0; x < w; x++ {
				base := (y*w + x) * ns
				for s := 0; s < ns; s++ {
					d.samples[base+s] = row[x]
				}
			}
		}
	}
	d.frames++
	slot := d.frames % ns
	radius := d.cfg.KNNRadius

	mask := imaging.NewMask(w, h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x := 0; x < w; x++ {
			v := row[x]
			base := (y*w + x) * ns
			matches := 0
			for s := 0; s < ns; s++ {
				if math.Abs(float64(v)-float64(d.samples[base+s])) <= radius {
					matches++
				}
			}
			background := matches >= d.cfg.KNNMatches
			if background || !d.Warm() {
				d.samples[base+slot] = v
			}
			if !background {
				mask.Set(x, y, 1)
			}
		}
	}

	if !d.warmupLogged && d.Warm() {
		d.warmupLogged = true
		d.logger.Infow("background model warm-up complete", "frames", d.frames)
	}

	warmScale := clamp01(float64(d.frames) / float64(d.cfg.WarmupFrames))
	regions := imaging.FindRegions(mask.Open())
	set := regionsToSet(regions, d.cfg, pf.Resolution, f.Timestamp, func(r imaging.Region) detection.Detection {
		fill := float64(r.Area) / float64(r.Box.Dx()*r.Box.Dy())
		return detection.Detection{
			Box:        r.Box,
			Centroid:   r.Centroid,
			Area:       r.Area,
			Confidence: clamp01(0.4+0.6*fill) * warmScale,
			Kind:       detection.KindMotion,
			Timestamp:  f.Timestamp,
			Contour:    r.Contour,
		}
	})
	return set, nil
}
