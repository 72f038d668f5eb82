package pipeline

import (
	"cmp"
	"slices"

	"coralcam/internal/model"
)

// Select drops objects scoring below threshold and returns at most k of the
// rest, highest score first. The input slice is not modified.
func Select(objects []model.DetectedObject, threshold float64, k int) []model.DetectedObject {
	kept := make([]model.DetectedObject, 0, len(objects))
	for _, obj := range objects {
		if float64(obj.Score) >= threshold {
			kept = append(kept, obj)
		}
	}
	slices.SortStableFunc(kept, func(a, b model.DetectedObject) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if k >= 0 && len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

// Rescale maps boxes from input space (inW x inH) to display space (outW x outH).
func Rescale(objects []model.DetectedObject, inW, inH, outW, outH int) []model.DetectedObject {
	if inW <= 0 || inH <= 0 {
		return objects
	}
	sx := float64(outW) / float64(inW)
	sy := float64(outH) / float64(inH)

	out := make([]model.DetectedObject, len(objects))
	for i, obj := range objects {
		obj.Box = obj.Box.Scale(sx, sy)
		out[i] = obj
	}
	return out
}
