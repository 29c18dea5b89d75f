package ws

import (
	"time"

	"skysweep/internal/detection"
	"skysweep/internal/pipeline"
)

// DetectionMessage is the wire form of one frame's results.
type DetectionMessage struct {
	Type        string      `json:"type"` // "detections"
	ResultID    string      `json:"result_id"`
	FrameSeq    uint64      `json:"frame_seq"`
	Timestamp   time.Time   `json:"timestamp"`
	FrameWidth  int         `json:"frame_width"`
	FrameHeight int         `json:"frame_height"`
	LatencyMs   float64     `json:"latency_ms"`
	OverBudget  bool        `json:"over_budget,omitempty"`
	Objects     []ObjectBox `json:"objects"`
	Frame       string      `json:"frame,omitempty"` // Base64 encoded JPEG, annotated
}

// ObjectBox is a single detection on the wire.
// BBox is [x, y, w, h] in reference-space pixels.
type ObjectBox struct {
	Kind       string    `json:"kind"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
	VelocityX  *float64  `json:"vx,omitempty"`
	VelocityY  *float64  `json:"vy,omitempty"`
	Votes      *int      `json:"votes,omitempty"`
}

// NewDetectionMessage converts a pipeline result to its wire form.
// The annotated frame, when present, is attached separately by the handler
// so encoding cost is only paid when a client is connected.
func NewDetectionMessage(r *pipeline.FrameResult) *DetectionMessage {
	msg := &DetectionMessage{
		Type:        "detections",
		ResultID:    r.ID.String(),
		FrameSeq:    r.Seq,
		Timestamp:   r.Timestamp,
		FrameWidth:  r.Space.Width,
		FrameHeight: r.Space.Height,
		LatencyMs:   float64(r.Latency.Microseconds()) / 1000,
		OverBudget:  r.OverBudget,
		Objects:     make([]ObjectBox, 0, r.Detections.Len()),
	}
	for _, d := range r.Detections.Detections {
		box := ObjectBox{
			Kind:       string(d.Kind),
			Confidence: d.Confidence,
			BBox: []float64{
				float64(d.Box.Min.X), float64(d.Box.Min.Y),
				float64(d.Box.Dx()), float64(d.Box.Dy()),
			},
		}
		if vx, ok := d.GetMeta(detection.MetaVelocityX); ok {
			vy, _ := d.GetMeta(detection.MetaVelocityY)
			box.VelocityX, box.VelocityY = &vx, &vy
		}
		if v, ok := d.GetMeta(detection.MetaVotes); ok {
			votes := int(v)
			box.Votes = &votes
		}
		msg.Objects = append(msg.Objects, box)
	}
	return msg
}

// SetFrame attaches the base64-encoded annotated frame.
func (m *DetectionMessage) SetFrame(frameBase64 string) {
	m.Frame = frameBase64
}
