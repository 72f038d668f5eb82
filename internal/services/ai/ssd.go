package ai

import "coralcam/internal/model"

// decodeSSD converts the four SSD postprocess outputs into objects in input
// pixels. Boxes are normalized [ymin, xmin, ymax, xmax] and are clamped to
// the unit square before scaling.
func decodeSSD(boxes, classes, scores []float32, count, width, height int) []model.DetectedObject {
	if count > len(scores) {
		count = len(scores)
	}
	if count > len(classes) {
		count = len(classes)
	}
	if count > len(boxes)/4 {
		count = len(boxes) / 4
	}
	if count < 0 {
		count = 0
	}

	objs := make([]model.DetectedObject, 0, count)
	for i := 0; i < count; i++ {
		b := boxes[i*4 : i*4+4]
		box := model.BBox{
			XMin: clamp01(b[1]) * float64(width),
			YMin: clamp01(b[0]) * float64(height),
			XMax: clamp01(b[3]) * float64(width),
			YMax: clamp01(b[2]) * float64(height),
		}
		if !box.Valid() {
			continue
		}
		objs = append(objs, model.DetectedObject{
			ClassID: int(classes[i]),
			Score:   scores[i],
			Box:     box,
		})
	}
	return objs
}

func clamp01(v float32) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return float64(v)
}
