package model

import "time"

// FrameRecord is one journaled telemetry message.
type FrameRecord struct {
	ID          int64             `json:"id"`
	FrameCount  uint64            `json:"frame_count"`
	MessageID   string            `json:"message_id"`
	CapturedAt  time.Time         `json:"captured_at"`
	InferenceMs float64           `json:"inference_ms"`
	Detections  []DetectionRecord `json:"detections"`
}

// DetectionRecord is one journaled object.
type DetectionRecord struct {
	ID      int64   `json:"id"`
	FrameID int64   `json:"frame_id"`
	ClassID int     `json:"class_id"`
	Label   string  `json:"label"`
	Score   float64 `json:"score"`
	BBox    BBox    `json:"bbox"`
}
