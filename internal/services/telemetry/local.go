package telemetry

import (
	"context"

	"coralcam/internal/model"
)

// Journal persists telemetry locally.
type Journal interface {
	SaveTelemetry(ctx context.Context, msg *model.TelemetryMessage) error
}

// JournalSink stores every message in a Journal (the SQLite detection database).
// The journal is owned by the caller and not closed by the sink.
type JournalSink struct {
	journal Journal
}

func NewJournalSink(j Journal) *JournalSink {
	return &JournalSink{journal: j}
}

func (s *JournalSink) Name() string { return "sqlite" }

func (s *JournalSink) Send(ctx context.Context, msg *model.TelemetryMessage) error {
	return s.journal.SaveTelemetry(ctx, msg)
}

func (s *JournalSink) Close() error { return nil }

// Broadcaster pushes telemetry to live viewers.
type Broadcaster interface {
	BroadcastTelemetry(msg *model.TelemetryMessage) error
}

// ViewerSink forwards messages to connected websocket viewers.
type ViewerSink struct {
	hub Broadcaster
}

func NewViewerSink(hub Broadcaster) *ViewerSink {
	return &ViewerSink{hub: hub}
}

func (s *ViewerSink) Name() string { return "websocket" }

func (s *ViewerSink) Send(_ context.Context, msg *model.TelemetryMessage) error {
	return s.hub.BroadcastTelemetry(msg)
}

func (s *ViewerSink) Close() error { return nil }
