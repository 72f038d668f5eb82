// Package camera reads frames from a local video device with OpenCV.
package camera

import (
	"errors"
	"fmt"
	"image"

	"coralcam/internal/logger"
	"coralcam/internal/model"
	"coralcam/internal/pipeline"

	"gocv.io/x/gocv"
)

var errEmptyFrame = errors.New("frame is empty")

// Device is a pipeline.FrameSource backed by a V4L/DirectShow camera.
type Device struct {
	index  int
	webcam *gocv.VideoCapture
	frame  gocv.Mat // Reused between reads
}

// Open opens camera index and requests the given resolution and frame rate.
// The camera may pick a different mode; the actual one is logged.
func Open(index, width, height, fps int, logger *logger.Logger) (*Device, error) {
	webcam, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open device %d: %w", pipeline.ErrCameraUnavailable, index, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("%w: device %d is not opened", pipeline.ErrCameraUnavailable, index)
	}

	webcam.Set(gocv.VideoCaptureBufferSize, 1)
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	if fps > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(fps))
	}

	logger.Info("Camera %d opened: %.0fx%.0f @ %.1f fps", index,
		webcam.Get(gocv.VideoCaptureFrameWidth),
		webcam.Get(gocv.VideoCaptureFrameHeight),
		webcam.Get(gocv.VideoCaptureFPS))

	return &Device{
		index:  index,
		webcam: webcam,
		frame:  gocv.NewMat(),
	}, nil
}

// Read blocks until the next frame and returns it as a BGR image.
func (d *Device) Read() (*model.Image, error) {
	if !d.webcam.Read(&d.frame) {
		return nil, fmt.Errorf("cannot read frame from device %d", d.index)
	}
	if d.frame.Empty() {
		return nil, errEmptyFrame
	}
	return toImage(d.frame)
}

func (d *Device) Close() error {
	return errors.Join(d.webcam.Close(), d.frame.Close())
}

// toImage copies a BGR Mat into a model.Image.
func toImage(mat gocv.Mat) (*model.Image, error) {
	if mat.Channels() != 3 {
		return nil, fmt.Errorf("unsupported frame with %d channels", mat.Channels())
	}
	return &model.Image{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: 3,
		Pixels:   mat.ToBytes(),
	}, nil
}

// Resizer scales BGR frames to the engine input and converts them to RGB.
type Resizer struct{}

func NewResizer() *Resizer {
	return &Resizer{}
}

func (r *Resizer) Resize(src *model.Image, width, height int) (*model.Image, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	mat, err := gocv.NewMatFromBytes(src.Height, src.Width, gocv.MatTypeCV8UC3, src.Pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(mat, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear); err != nil {
		return nil, fmt.Errorf("failed to resize frame: %w", err)
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	if err := gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB); err != nil {
		return nil, fmt.Errorf("failed to convert frame to RGB: %w", err)
	}
	return toImage(rgb)
}
