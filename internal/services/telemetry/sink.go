// Package telemetry delivers per-frame detection messages to remote and local sinks.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coralcam/internal/logger"
	"coralcam/internal/model"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Sink delivers a single telemetry message. Send must respect ctx.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg *model.TelemetryMessage) error
	Close() error
}

// SinkError attributes a delivery failure to the sink that produced it.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// LogSink writes each message to the application log.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, msg *model.TelemetryMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.log.Info("Telemetry: %s", payload)
	return nil
}

func (s *LogSink) Close() error { return nil }

// MultiSink fans a message out to several sinks concurrently, so a slow sink
// does not consume the deadline of the others. Failures are returned together,
// each wrapped in a SinkError, in sink order.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string { return "multi" }

func (m *MultiSink) Send(ctx context.Context, msg *model.TelemetryMessage) error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		g.Go(func() error {
			if err := s.Send(ctx, msg); err != nil {
				errs[i] = &SinkError{Sink: s.Name(), Err: err}
			}
			return nil
		})
	}
	g.Wait()
	return multierr.Combine(errs...)
}

func (m *MultiSink) Close() error {
	var err error
	for _, s := range m.sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// Sinks returns the wrapped sinks.
func (m *MultiSink) Sinks() []Sink {
	return m.sinks
}

// failedSinks returns the sink names responsible for err, falling back to fallback.
func failedSinks(err error, fallback string) []string {
	var names []string
	for _, e := range multierr.Errors(err) {
		var se *SinkError
		if errors.As(e, &se) {
			names = append(names, se.Sink)
		}
	}
	if len(names) == 0 {
		names = append(names, fallback)
	}
	return names
}
