package model

import "time"

// Frame is one captured camera image, immutable once it leaves the capture stage.
// Raw is the camera raster (display space), Input is the same frame resized
// for the inference engine.
type Frame struct {
	Index      uint64
	CapturedAt time.Time
	Raw        *Image
	Input      *Image
}

// AnnotatedFrame is the output of the inference stage.
type AnnotatedFrame struct {
	Frame         *Frame
	Image         *Image           // Copy of Frame.Raw with overlays drawn
	Objects       []DetectedObject // Boxes in display space
	InferenceTime time.Duration
}
