package ai

import (
	"errors"
	"fmt"
	"image"
	"os"

	"coralcam/internal/logger"
	"coralcam/internal/model"

	"gocv.io/x/gocv"
)

// dnnInputSize is the square input of the OpenCV SSD models.
const dnnInputSize = 300

// DNNEngine runs an SSD model through the OpenCV DNN module on the CPU.
type DNNEngine struct {
	net    gocv.Net
	logger *logger.Logger
}

// NewDNNEngine loads a model and its network description, e.g. a frozen
// TensorFlow graph with its .pbtxt.
func NewDNNEngine(modelPath, configPath string, logger *logger.Logger) (*DNNEngine, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, errors.New("failed to load network")
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, errors.New("failed to set preferable backend or target")
	}

	logger.Info("Detection network initialized successfully")
	return &DNNEngine{net: net, logger: logger}, nil
}

func (e *DNNEngine) InputSize() (int, int) {
	return dnnInputSize, dnnInputSize
}

// Detect expects an RGB image at InputSize.
func (e *DNNEngine) Detect(input *model.Image) ([]model.DetectedObject, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	mat, err := gocv.NewMatFromBytes(input.Height, input.Width, gocv.MatTypeCV8UC3, input.Pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap input: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(dnnInputSize, dnnInputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	// Each row is [batch, class, score, xmin, ymin, xmax, ymax] with normalized corners.
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	w, h := float64(input.Width), float64(input.Height)
	objs := make([]model.DetectedObject, 0, rows.Rows())
	for i := 0; i < rows.Rows(); i++ {
		box := model.BBox{
			XMin: clamp01(rows.GetFloatAt(i, 3)) * w,
			YMin: clamp01(rows.GetFloatAt(i, 4)) * h,
			XMax: clamp01(rows.GetFloatAt(i, 5)) * w,
			YMax: clamp01(rows.GetFloatAt(i, 6)) * h,
		}
		if !box.Valid() {
			continue
		}
		objs = append(objs, model.DetectedObject{
			ClassID: int(rows.GetFloatAt(i, 1)),
			Score:   rows.GetFloatAt(i, 2),
			Box:     box,
		})
	}
	return objs, nil
}

func (e *DNNEngine) Close() error {
	return e.net.Close()
}
