// Package display renders annotated frames to a desktop window or to the
// websocket viewers.
package display

import (
	"fmt"
	"os"
	"runtime"

	"coralcam/internal/model"
	"coralcam/internal/pipeline"

	"gocv.io/x/gocv"
)

const (
	keyEsc = 27
	keyQ   = 'q'
)

// Window shows frames in an OpenCV HighGUI window. All methods must be
// called from the main OS thread.
type Window struct {
	window *gocv.Window
	key    int
}

// OpenWindow creates a named window. It fails with ErrDisplayUnavailable when
// no graphical session is reachable.
func OpenWindow(name string) (*Window, error) {
	if runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return nil, fmt.Errorf("%w: DISPLAY is not set", pipeline.ErrDisplayUnavailable)
	}
	return &Window{window: gocv.NewWindow(name), key: -1}, nil
}

func (w *Window) Show(img *model.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.Pixels)
	if err != nil {
		return fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	if err := w.window.IMShow(mat); err != nil {
		return fmt.Errorf("failed to show frame: %w", err)
	}
	w.key = w.window.WaitKey(1)
	return nil
}

// PollEvent reports EventQuit on q, Esc, or when the window was closed.
func (w *Window) PollEvent() pipeline.Event {
	key := w.key
	w.key = -1
	if key < 0 {
		key = w.window.WaitKey(1)
	}
	return windowEvent(key, w.window.GetWindowProperty(gocv.WindowPropertyVisible))
}

// windowEvent maps a key code and the window's visible property to an event.
// HighGUI reports visible below 1 once the user closed the window.
func windowEvent(key int, visible float64) pipeline.Event {
	if key == keyQ || key == keyEsc || visible < 1 {
		return pipeline.EventQuit
	}
	return pipeline.EventNone
}

func (w *Window) Close() error {
	return w.window.Close()
}
