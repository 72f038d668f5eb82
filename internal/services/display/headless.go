package display

import (
	"errors"
	"fmt"

	"coralcam/internal/model"
	"coralcam/internal/pipeline"
	"coralcam/internal/services/websocket"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Viewers receives encoded frames. *websocket.HubService implements it.
type Viewers interface {
	BroadcastFrame(jpeg []byte) error
	GetClientCount() int
}

// Headless encodes frames as JPEG for the websocket viewers. It never reports
// a quit event; the process is stopped with a signal.
type Headless struct {
	viewers Viewers
}

func NewHeadless(viewers Viewers) *Headless {
	return &Headless{viewers: viewers}
}

func (h *Headless) Show(img *model.Image) error {
	if h.viewers.GetClientCount() == 0 {
		return nil
	}
	jpeg, err := EncodeJPEG(img)
	if err != nil {
		return err
	}
	if err := h.viewers.BroadcastFrame(jpeg); err != nil && !errors.Is(err, websocket.ErrHubBusy) {
		return err
	}
	return nil
}

func (h *Headless) PollEvent() pipeline.Event {
	return pipeline.EventNone
}

func (h *Headless) Close() error {
	return nil
}

// EncodeJPEG encodes a BGR image.
func EncodeJPEG(img *model.Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.Pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Mirror shows every frame on the primary surface and copies it to the
// secondary one. Events come from the primary surface only.
type Mirror struct {
	primary   pipeline.Surface
	secondary pipeline.Surface
}

func NewMirror(primary, secondary pipeline.Surface) *Mirror {
	return &Mirror{primary: primary, secondary: secondary}
}

func (m *Mirror) Show(img *model.Image) error {
	return multierr.Append(m.primary.Show(img), m.secondary.Show(img))
}

func (m *Mirror) PollEvent() pipeline.Event {
	return m.primary.PollEvent()
}

func (m *Mirror) Close() error {
	return multierr.Append(m.primary.Close(), m.secondary.Close())
}
