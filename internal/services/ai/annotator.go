package ai

import (
	"fmt"
	"image"
	"image/color"

	"coralcam/internal/model"
	"coralcam/internal/pipeline"

	"gocv.io/x/gocv"
)

var (
	boxColor    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	headerColor = color.RGBA{R: 0, G: 0, B: 255, A: 0}
)

// Annotator draws detection overlays on BGR frames with OpenCV.
type Annotator struct{}

func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Annotate draws each overlay box with its text above it, and the header in
// the top left corner. img is modified in place.
func (a *Annotator) Annotate(img *model.Image, overlays []pipeline.Overlay, header string) error {
	if err := img.Validate(); err != nil {
		return err
	}
	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.Pixels)
	if err != nil {
		return fmt.Errorf("failed to wrap image: %w", err)
	}
	defer mat.Close()

	for _, o := range overlays {
		rect := image.Rect(int(o.Box.XMin), int(o.Box.YMin), int(o.Box.XMax), int(o.Box.YMax))
		if err := gocv.Rectangle(&mat, rect, boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}
		y := rect.Min.Y - 5
		if y < 15 {
			y = rect.Min.Y + 15
		}
		if err := gocv.PutText(&mat, o.Text, image.Pt(rect.Min.X, y), gocv.FontHersheySimplex, 0.5, boxColor, 1); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}

	if header != "" {
		if err := gocv.PutText(&mat, header, image.Pt(10, 20), gocv.FontHersheySimplex, 0.6, headerColor, 2); err != nil {
			return fmt.Errorf("failed to draw header: %w", err)
		}
	}

	copy(img.Pixels, mat.ToBytes())
	return nil
}
