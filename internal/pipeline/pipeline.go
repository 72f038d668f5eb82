// Package pipeline runs the capture, inference and display stages connected
// by two bounded drop-oldest queues.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"coralcam/internal/labels"
	"coralcam/internal/logger"
	"coralcam/internal/metrics"
	"coralcam/internal/model"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrCameraUnavailable  = errors.New("camera unavailable")
	ErrDisplayUnavailable = errors.New("display unavailable")
)

// FrameSource produces raw BGR frames at camera resolution.
type FrameSource interface {
	Read() (*model.Image, error)
	Close() error
}

// Resizer scales a raw frame to the engine input size and converts it to RGB.
type Resizer interface {
	Resize(src *model.Image, width, height int) (*model.Image, error)
}

// Detector runs the model on an input image. Boxes are returned in input pixels.
type Detector interface {
	InputSize() (width, height int)
	Detect(input *model.Image) ([]model.DetectedObject, error)
}

// Overlay is one labelled box to draw on a display frame.
type Overlay struct {
	Box  model.BBox
	Text string
}

// Annotator draws overlays and a header line onto img in place.
type Annotator interface {
	Annotate(img *model.Image, overlays []Overlay, header string) error
}

// Event is a user interaction reported by a Surface.
type Event int

const (
	EventNone Event = iota
	EventQuit
)

// Surface renders annotated frames.
type Surface interface {
	Show(img *model.Image) error
	PollEvent() Event
	Close() error
}

// Publisher accepts telemetry without blocking.
type Publisher interface {
	Publish(msg *model.TelemetryMessage)
}

type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Components are the collaborators a Pipeline drives. All are required.
type Components struct {
	Source    FrameSource
	Resizer   Resizer
	Detector  Detector
	Annotator Annotator
	Surface   Surface
	Publisher Publisher
	Labels    *labels.Table
}

type Options struct {
	Threshold float64
	TopK      int
	QueueSize int
	FrameRate int
}

// displayWait bounds how long the display loop waits for a frame before polling events again.
const displayWait = 10 * time.Millisecond

// inferenceErrorInterval is the minimum time between two logged inference errors.
const inferenceErrorInterval = 15 * time.Second

type Pipeline struct {
	c       Components
	opts    Options
	log     *logger.Logger
	metrics *metrics.Metrics

	captureQ *Queue[*model.Frame]
	displayQ *Queue[*model.AnnotatedFrame]

	state         atomic.Int32
	errSampler    rate.Sometimes
	warnedIDs     map[int]bool // Only touched by the inference goroutine
	lastInference time.Time
}

func New(c Components, opts Options, m *metrics.Metrics, log *logger.Logger) *Pipeline {
	if opts.FrameRate <= 0 {
		opts.FrameRate = 10
	}
	p := &Pipeline{
		c:          c,
		opts:       opts,
		log:        log,
		metrics:    m,
		captureQ:   NewQueue[*model.Frame](opts.QueueSize),
		displayQ:   NewQueue[*model.AnnotatedFrame](opts.QueueSize),
		errSampler: rate.Sometimes{Interval: inferenceErrorInterval},
		warnedIDs:  make(map[int]bool),
	}
	p.state.Store(int32(StateInitializing))
	return p
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.log.Debug("Pipeline %s", s)
}

// Run starts capture and inference in the background and runs the display
// loop on the calling goroutine, which must be the main OS thread for window
// surfaces. It returns nil when the user quits or ctx is cancelled, and an
// error wrapping ErrCameraUnavailable if the camera fails.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.capture(gctx) })
	g.Go(func() error { return p.inference(gctx) })

	p.setState(StateRunning)
	p.display(gctx)

	p.setState(StateDraining)
	cancel()
	err := g.Wait()
	discarded := p.captureQ.Drain() + p.displayQ.Drain()
	if discarded > 0 {
		p.log.Debug("Discarded %d queued frames", discarded)
	}
	p.setState(StateStopped)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stats returns the current pipeline statistics.
func (p *Pipeline) Stats() metrics.Stats {
	return p.metrics.Snapshot()
}
