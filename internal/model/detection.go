package model

// BBox is an axis-aligned box expressed as min/max corners.
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Scale multiplies the x coordinates by sx and the y coordinates by sy.
func (b BBox) Scale(sx, sy float64) BBox {
	return BBox{
		XMin: b.XMin * sx,
		YMin: b.YMin * sy,
		XMax: b.XMax * sx,
		YMax: b.YMax * sy,
	}
}

func (b BBox) Width() float64 {
	return b.XMax - b.XMin
}

func (b BBox) Height() float64 {
	return b.YMax - b.YMin
}

// Valid reports whether the box has non-negative extent.
func (b BBox) Valid() bool {
	return b.XMax >= b.XMin && b.YMax >= b.YMin
}

// DetectedObject is a single result returned by an inference engine.
type DetectedObject struct {
	ClassID int     `json:"id"`
	Score   float32 `json:"score"`
	Box     BBox    `json:"bbox"`
}
