package telemetry

import (
	"context"
	"sync"
	"time"

	"coralcam/internal/logger"
	"coralcam/internal/metrics"
	"coralcam/internal/model"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Dispatcher decouples the inference loop from sink latency. Publish never
// blocks; one goroutine delivers messages in order, each attempt bounded by
// the configured timeout. Failed messages are counted and dropped.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	queue   chan *model.TelemetryMessage
	pushMu  sync.Mutex
	metrics *metrics.Metrics
	log     *logger.Logger

	errSampler rate.Sometimes

	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(sink Sink, timeout time.Duration, queueLen int, m *metrics.Metrics, log *logger.Logger) *Dispatcher {
	if queueLen <= 0 {
		queueLen = 1
	}
	return &Dispatcher{
		sink:       sink,
		timeout:    timeout,
		queue:      make(chan *model.TelemetryMessage, queueLen),
		metrics:    m,
		log:        log,
		errSampler: rate.Sometimes{Interval: 15 * time.Second},
	}
}

// Start launches the delivery goroutine. It stops when ctx is done or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg *model.TelemetryMessage) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.sink.Send(ctx, msg)
	if err == nil {
		d.metrics.TelemetrySent.Add(1)
		return
	}
	d.errSampler.Do(func() {
		d.log.Warning("Telemetry for frame %d not delivered: %v", msg.FrameCount, err)
	})
	for _, name := range failedSinks(err, d.sink.Name()) {
		d.metrics.TelemetryError(name)
	}
}

// Publish queues msg for delivery, evicting the oldest pending message when full.
func (d *Dispatcher) Publish(msg *model.TelemetryMessage) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	d.pushMu.Lock()
	defer d.pushMu.Unlock()
	for {
		select {
		case d.queue <- msg:
			return
		default:
		}
		select {
		case <-d.queue:
			d.metrics.TelemetryDropped.Add(1)
		default:
		}
	}
}

// Pending returns the number of queued messages.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Close stops delivery, discards pending messages and closes the sink.
func (d *Dispatcher) Close() error {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	return d.sink.Close()
}
