package dto

import "time"

// DetectionFilter describes user-provided filters to narrow the detection journal.
type DetectionFilter struct {
	Label    string
	MinScore float64
	After    time.Time
	Before   time.Time
	Page     int
	Limit    int
}

// Offset returns the number of rows to skip for the requested page.
func (f *DetectionFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}
