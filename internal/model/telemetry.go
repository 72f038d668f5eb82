package model

import "time"

// TelemetryObject is one detection inside a telemetry message.
type TelemetryObject struct {
	ID    int     `json:"id"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
	BBox  BBox    `json:"bbox"`
}

// TelemetryMessage describes the detections of a single frame.
// The JSON layout is consumed by the cloud side and must stay stable.
type TelemetryMessage struct {
	FrameCount      uint64            `json:"frame_count"`
	InferenceTime   float64           `json:"inference_time"` // seconds
	ObjectsDetected []TelemetryObject `json:"objects_detected"`

	MessageID  string    `json:"-"`
	CapturedAt time.Time `json:"-"`
}
