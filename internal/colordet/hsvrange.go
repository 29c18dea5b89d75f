package colordet

import (
	"go.uber.org/zap"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
	"skysweep/internal/imaging"
)

// hueRange is a closed hue interval on the circular [0,180) scale. Ranges
// that would cross the wrap boundary are split into two of these and unioned.
type hueRange struct {
	lo, hi uint8
}

func (r hueRange) contains(h uint8) bool {
	return h >= r.lo && h <= r.hi
}

// splitHueRange returns the sub-ranges covering target +/- spread, splitting
// at the circular boundary when needed.
func splitHueRange(target, spread uint8) []hueRange {
	lo := int(target) - int(spread)
	hi := int(target) + int(spread)
	if lo >= 0 && hi < 180 {
		return []hueRange{{uint8(lo), uint8(hi)}}
	}
	var out []hueRange
	if lo < 0 {
		out = append(out, hueRange{uint8(180 + lo), 179}, hueRange{0, uint8(hi)})
	} else {
		out = append(out, hueRange{uint8(lo), 179}, hueRange{0, uint8(hi - 180)})
	}
	return out
}

// hsvRange builds a binary mask of pixels within the configured HSV band
// around the target color and extracts the matching blobs. Confidence weighs
// normalized blob size against shape solidity.
type hsvRange struct {
	cfg    Config
	logger *zap.SugaredLogger

	hues         []hueRange
	satLo, satHi uint8
	valLo, valHi uint8
}

func newHSVRange(cfg Config, logger *zap.SugaredLogger) *hsvRange {
	th, ts, tv := imaging.RGBToHSV(cfg.TargetColor.R, cfg.TargetColor.G, cfg.TargetColor.B)
	return &hsvRange{
		cfg:    cfg,
		logger: logger,
		hues:   splitHueRange(th, cfg.HueThreshold),
		satLo:  subClamp(ts, cfg.SaturationThreshold),
		satHi:  addClamp(ts, cfg.SaturationThreshold),
		valLo:  subClamp(tv, cfg.ValueThreshold),
		valHi:  addClamp(tv, cfg.ValueThreshold),
	}
}

func (d *hsvRange) Variant() Variant { return HSVRange }

func (d *hsvRange) Reset() {}

func (d *hsvRange) Detect(f frame.Frame) (detection.Set, error) {
	af := d.cfg.analysisFrame(f)
	w, h := af.Resolution.Width, af.Resolution.Height
	mask := imaging.NewMask(w, h)
	img := af.Image
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			hh, ss, vv := imaging.RGBToHSV(row[x*4], row[x*4+1], row[x*4+2])
			if ss < d.satLo || ss > d.satHi || vv < d.valLo || vv > d.valHi {
				continue
			}
			for _, r := range d.hues {
				if r.contains(hh) {
					mask.Set(x, y, 1)
					break
				}
			}
		}
	}

	total := float64(w * h)
	sample := d.cfg.TargetColor
	set := maskToSet(mask, d.cfg, af.Resolution, f.Timestamp, func(r imaging.Region) detection.Detection {
		sizeScore := clamp01(float64(r.Area) / (0.02 * total))
		solidity := float64(r.Area) / float64(r.Box.Dx()*r.Box.Dy())
		c := sample
		return detection.Detection{
			Box:        r.Box,
			Centroid:   r.Centroid,
			Area:       r.Area,
			Confidence: clamp01(0.6*sizeScore + 0.4*solidity),
			Kind:       detection.KindColorTarget,
			Timestamp:  f.Timestamp,
			Color:      &c,
			Contour:    r.Contour,
		}
	})
	return set, nil
}

// Matches reports whether a single color falls inside the configured band.
func (d *hsvRange) Matches(r, g, b uint8) bool {
	hh, ss, vv := imaging.RGBToHSV(r, g, b)
	if ss < d.satLo || ss > d.satHi || vv < d.valLo || vv > d.valHi {
		return false
	}
	for _, hr := range d.hues {
		if hr.contains(hh) {
			return true
		}
	}
	return false
}

func addClamp(v, d uint8) uint8 {
	s := int(v) + int(d)
	if s > 255 {
		return 255
	}
	return uint8(s)
}

func subClamp(v, d uint8) uint8 {
	s := int(v) - int(d)
	if s < 0 {
		return 0
	}
	return uint8(s)
}
