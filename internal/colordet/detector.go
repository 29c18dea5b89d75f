package colordet

import (
	"image/color"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
	"skysweep/internal/imaging"
)

// Variant selects the color detection algorithm.
type Variant string

const (
	// HSVRange matches pixels near a configured target color in HSV space.
	HSVRange Variant = "hsv_range"
	// RareColor flags pixels whose quantized color is statistically
	// infrequent within the frame.
	RareColor Variant = "rare_color"
)

// Detector is implemented by both color variants. Color detection is
// stateless per frame; Reset exists to mirror the motion interface and is a
// no-op for both variants.
type Detector interface {
	Variant() Variant
	Detect(f frame.Frame) (detection.Set, error)
	Reset()
}

// Config holds the recognized color detector options.
type Config struct {
	Variant Variant

	// AnalysisResolution is the single downsample target; frames are never
	// downsampled twice. Zero means the incoming frame resolution.
	AnalysisResolution frame.Resolution

	MinArea       int
	MaxArea       int
	MaxDetections int

	// HSVRange options.
	TargetColor         color.RGBA
	HueThreshold        uint8 // half-degrees, hue scale [0,180)
	SaturationThreshold uint8
	ValueThreshold      uint8

	// RareColor options.
	QuantizationBits uint
	RarityPercentile float64
}

// DefaultConfig returns the defaults for a variant.
func DefaultConfig(v Variant) Config {
	return Config{
		Variant:             v,
		MinArea:             30,
		HueThreshold:        15,
		SaturationThreshold: 60,
		ValueThreshold:      60,
		QuantizationBits:    5,
		RarityPercentile:    20,
	}
}

// Validate reports configuration errors before any frame is processed.
func (c Config) Validate() error {
	switch c.Variant {
	case HSVRange, RareColor:
	default:
		return errors.Errorf("unsupported color variant %q", c.Variant)
	}
	if c.MinArea < 0 || c.MaxArea < 0 {
		return errors.New("area bounds must be >= 0")
	}
	if c.MaxArea > 0 && c.MaxArea < c.MinArea {
		return errors.New("max_area must be >= min_area")
	}
	if c.MaxDetections < 0 {
		return errors.New("max_detections must be >= 0")
	}
	if c.HueThreshold > 90 {
		return errors.New("hue_threshold must be <= 90 half-degrees")
	}
	if c.QuantizationBits > 8 {
		return errors.New("color_quantization_bits must be in [1,8]")
	}
	if c.RarityPercentile < 0 || c.RarityPercentile > 100 {
		return errors.New("color_rarity_percentile must be in [0,100]")
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Variant)
	if c.MinArea == 0 {
		c.MinArea = def.MinArea
	}
	if c.HueThreshold == 0 {
		c.HueThreshold = def.HueThreshold
	}
	if c.SaturationThreshold == 0 {
		c.SaturationThreshold = def.SaturationThreshold
	}
	if c.ValueThreshold == 0 {
		c.ValueThreshold = def.ValueThreshold
	}
	if c.QuantizationBits == 0 {
		c.QuantizationBits = def.QuantizationBits
	}
	if c.RarityPercentile == 0 {
		c.RarityPercentile = def.RarityPercentile
	}
	return c
}

// New constructs the configured variant, failing fast on invalid options.
func New(cfg Config, logger *zap.SugaredLogger) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "color detector config")
	}
	cfg = cfg.withDefaults()
	log := logger.Named("color").With("variant", string(cfg.Variant))
	switch cfg.Variant {
	case HSVRange:
		return newHSVRange(cfg, log), nil
	case RareColor:
		return newRareColor(cfg, log), nil
	}
	return nil, errors.Errorf("unsupported color variant %q", cfg.Variant)
}

func (c Config) analysisFrame(f frame.Frame) frame.Frame {
	if c.AnalysisResolution.Width == 0 || c.AnalysisResolution.Height == 0 {
		return f
	}
	return f.Downsample(c.AnalysisResolution)
}

// maskToSet runs the shared post-mask path: morphological open-then-close,
// boundary extraction, area filtering, area-descending pre-sort, cap, and
// detection construction.
func maskToSet(mask *imaging.Mask, cfg Config, space frame.Resolution, ts time.Time,
	build func(imaging.Region) detection.Detection,
) detection.Set {
	set := detection.NewSet(space, ts)
	regions := imaging.FindRegions(mask.OpenClose())
	kept := regions[:0:0]
	for _, r := range regions {
		if r.Area < cfg.MinArea {
			continue
		}
		if cfg.MaxArea > 0 && r.Area > cfg.MaxArea {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Area > kept[j].Area })
	if cfg.MaxDetections > 0 && len(kept) > cfg.MaxDetections {
		kept = kept[:cfg.MaxDetections]
	}
	for _, r := range kept {
		d := build(r)
		if d.Confidence < 0 {
			d.Confidence = 0
		}
		if d.Confidence > 1 {
			d.Confidence = 1
		}
		set.Detections = append(set.Detections, d)
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
