package dto

import "coralcam/internal/model"

// DetectionsData is a paginated response payload for the detection journal.
type DetectionsData struct {
	Frames      []model.FrameRecord `json:"frames"`
	Length      int                 `json:"length"`
	TotalPages  int                 `json:"totalPages"`
	CurrentPage int                 `json:"currentPage"`
	Limit       int                 `json:"pageSize"`
}

// LabelCount is the number of detections of one label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
