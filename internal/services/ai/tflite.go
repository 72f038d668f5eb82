package ai

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"coralcam/internal/logger"
	"coralcam/internal/model"

	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/edgetpu"
)

// ErrNoEdgeTPU is returned when the Edge TPU engine is requested but no
// accelerator is attached.
var ErrNoEdgeTPU = errors.New("no Edge TPU device found")

// TFLiteEngine runs an SSD detection model with TensorFlow Lite, optionally
// delegating to a Coral Edge TPU. It must only be used from one goroutine.
type TFLiteEngine struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	delegate    delegates.Delegater
	logger      *logger.Logger

	width    int
	height   int
	channels int
	input    tflite.TensorType
}

// NewTFLiteEngine loads modelPath. With useEdgeTPU set, the first Edge TPU
// device is attached as a delegate and its absence is an error.
func NewTFLiteEngine(modelPath string, useEdgeTPU bool, logger *logger.Logger) (*TFLiteEngine, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	e := &TFLiteEngine{logger: logger}
	e.model = tflite.NewModelFromFile(modelPath)
	if e.model == nil {
		return nil, fmt.Errorf("failed to load model %s", modelPath)
	}

	e.options = tflite.NewInterpreterOptions()
	if e.options == nil {
		e.Close()
		return nil, errors.New("failed to create interpreter options")
	}
	e.options.SetNumThread(runtime.NumCPU())
	e.options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warning("TFLite: %s", msg)
	}, nil)

	if useEdgeTPU {
		devices, err := edgetpu.DeviceList()
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to list Edge TPU devices: %w", err)
		}
		if len(devices) == 0 {
			e.Close()
			return nil, ErrNoEdgeTPU
		}
		e.delegate = edgetpu.New(devices[0])
		if e.delegate == nil {
			e.Close()
			return nil, fmt.Errorf("failed to create Edge TPU delegate for %s", devices[0].Path)
		}
		e.options.AddDelegate(e.delegate)
		logger.Info("Using Edge TPU device %s", devices[0].Path)
	}

	e.interpreter = tflite.NewInterpreter(e.model, e.options)
	if e.interpreter == nil {
		e.Close()
		return nil, errors.New("failed to create interpreter")
	}
	if status := e.interpreter.AllocateTensors(); status != tflite.OK {
		e.Close()
		return nil, errors.New("failed to allocate tensors")
	}

	input := e.interpreter.GetInputTensor(0)
	if input.NumDims() != 4 {
		e.Close()
		return nil, fmt.Errorf("unexpected input tensor rank %d", input.NumDims())
	}
	e.height = input.Dim(1)
	e.width = input.Dim(2)
	e.channels = input.Dim(3)
	e.input = input.Type()
	if e.input != tflite.UInt8 && e.input != tflite.Float32 {
		e.Close()
		return nil, fmt.Errorf("unsupported input tensor type %s", e.input)
	}
	if n := e.interpreter.GetOutputTensorCount(); n < 4 {
		e.Close()
		return nil, fmt.Errorf("expected 4 detection outputs, model has %d", n)
	}

	logger.Info("Model %s loaded: input %dx%dx%d %s", modelPath, e.width, e.height, e.channels, e.input)
	return e, nil
}

func (e *TFLiteEngine) InputSize() (int, int) {
	return e.width, e.height
}

// Detect runs one inference. input must be RGB at InputSize.
func (e *TFLiteEngine) Detect(input *model.Image) ([]model.DetectedObject, error) {
	if input.Width != e.width || input.Height != e.height || input.Channels != e.channels {
		return nil, fmt.Errorf("input %dx%dx%d does not match model %dx%dx%d",
			input.Width, input.Height, input.Channels, e.width, e.height, e.channels)
	}

	tensor := e.interpreter.GetInputTensor(0)
	var status tflite.Status
	if e.input == tflite.Float32 {
		buf := make([]float32, len(input.Pixels))
		for i, p := range input.Pixels {
			buf[i] = (float32(p) - 127.5) / 127.5
		}
		status = tensor.CopyFromBuffer(buf)
	} else {
		status = tensor.CopyFromBuffer(input.Pixels)
	}
	if status != tflite.OK {
		return nil, errors.New("copying input tensor failed")
	}

	if status := e.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("invoke failed")
	}

	boxes := e.interpreter.GetOutputTensor(0).Float32s()
	classes := e.interpreter.GetOutputTensor(1).Float32s()
	scores := e.interpreter.GetOutputTensor(2).Float32s()
	count := e.interpreter.GetOutputTensor(3).Float32s()
	if len(count) == 0 {
		return nil, errors.New("detection count tensor is empty")
	}

	return decodeSSD(boxes, classes, scores, int(count[0]), e.width, e.height), nil
}

// Close releases the interpreter, delegate and model. It is safe on a
// partially constructed engine.
func (e *TFLiteEngine) Close() error {
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.delegate != nil {
		e.delegate.Delete()
		e.delegate = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}
