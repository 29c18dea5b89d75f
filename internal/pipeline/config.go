package pipeline

import (
	"time"

	"github.com/pkg/errors"

	"skysweep/internal/colordet"
	"skysweep/internal/frame"
	"skysweep/internal/fusion"
	"skysweep/internal/motiondet"
	"skysweep/internal/postproc"
)

// Config controls which detectors run and how their results are combined.
// Zero values fall back to defaults in New; Validate runs after defaults
// are applied so a partially filled config is fine.
type Config struct {
	// ReferenceResolution is the coordinate space every detector's output is
	// rescaled into before fusion. Detectors may analyze at lower resolutions.
	ReferenceResolution frame.Resolution

	// BufferCapacity bounds the frame queue between capture and processing.
	BufferCapacity int

	EnableMotion   bool
	Motion         motiondet.Config
	EnableColor    bool
	Color          colordet.Config
	EnableAnomaly  bool
	Anomaly        colordet.Config
	FusionMode     fusion.Mode
	IoUThreshold   float64
	Post           postproc.Config
	MaxDetections  int // rendered per frame after ranking, 0 = unlimited
	AnnotateFrames bool

	// LatencyBudget is advisory. Frames that take longer are still published,
	// flagged OverBudget, and logged.
	LatencyBudget time.Duration
}

// DefaultConfig enables motion and color target detection with union fusion.
func DefaultConfig() Config {
	return Config{
		ReferenceResolution: frame.Resolution{Width: 1280, Height: 720},
		BufferCapacity:      3,
		EnableMotion:        true,
		Motion:              motiondet.DefaultConfig(motiondet.FrameDiff),
		EnableColor:         true,
		Color:               colordet.DefaultConfig(colordet.HSVRange),
		Anomaly:             colordet.DefaultConfig(colordet.RareColor),
		FusionMode:          fusion.Union,
		IoUThreshold:        fusion.DefaultIoUThreshold,
		Post:                postproc.DefaultConfig(),
		MaxDetections:       25,
		LatencyBudget:       100 * time.Millisecond,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.ReferenceResolution.Width <= 0 || c.ReferenceResolution.Height <= 0 {
		return errors.New("reference resolution must be positive")
	}
	if c.BufferCapacity < 0 {
		return errors.New("buffer capacity must be >= 0")
	}
	if !c.EnableMotion && !c.EnableColor && !c.EnableAnomaly {
		return errors.New("at least one detector must be enabled")
	}
	if c.LatencyBudget < 0 {
		return errors.New("latency budget must be >= 0")
	}
	if c.MaxDetections < 0 {
		return errors.New("max detections must be >= 0")
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReferenceResolution.Width == 0 && c.ReferenceResolution.Height == 0 {
		c.ReferenceResolution = def.ReferenceResolution
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = def.BufferCapacity
	}
	if c.FusionMode == "" {
		c.FusionMode = def.FusionMode
	}
	if c.IoUThreshold == 0 {
		c.IoUThreshold = def.IoUThreshold
	}
	if c.LatencyBudget == 0 {
		c.LatencyBudget = def.LatencyBudget
	}
	if c.Motion.Algorithm == "" {
		c.Motion = def.Motion
	}
	if c.Color.Variant == "" {
		c.Color = def.Color
	}
	if c.Anomaly.Variant == "" {
		c.Anomaly = def.Anomaly
	}
	return c
}
