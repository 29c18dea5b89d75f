package pipeline

import (
	"image"
	"time"

	"github.com/google/uuid"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
)

// FrameResult is the published outcome of processing one frame.
type FrameResult struct {
	ID         uuid.UUID
	Seq        uint64
	Timestamp  time.Time
	Space      frame.Resolution
	Detections detection.Set
	Latency    time.Duration
	OverBudget bool

	// Annotated is the frame with detection boxes drawn, nil unless
	// annotation is enabled.
	Annotated *image.RGBA
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	FramesProcessed  uint64
	FramesFailed     uint64
	DetectionsTotal  uint64
	OverBudgetFrames uint64
	AvgLatencyMs     float64
	LastFrameSeq     uint64
}
