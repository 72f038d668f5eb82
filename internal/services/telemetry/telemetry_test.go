package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"coralcam/internal/logger"
	"coralcam/internal/metrics"
	"coralcam/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	err  error
	hold chan struct{} // when set, Send blocks until closed or ctx is done

	mu       sync.Mutex
	received []*model.TelemetryMessage
	closed   bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, msg *model.TelemetryMessage) error {
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func message(frame uint64) *model.TelemetryMessage {
	return &model.TelemetryMessage{
		FrameCount:      frame,
		InferenceTime:   0.012,
		ObjectsDetected: []model.TelemetryObject{},
	}
}

func TestDispatcher_DeliversAndCloses(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	m := metrics.New()
	d := NewDispatcher(sink, time.Second, 8, m, logger.NewNop())
	d.Start(context.Background())

	msg := message(1)
	d.Publish(msg)
	assert.NotEmpty(t, msg.MessageID)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), m.TelemetrySent.Load())

	require.NoError(t, d.Close())
	assert.True(t, sink.closed)
}

func TestDispatcher_FailingSinkIsCountedNotPropagated(t *testing.T) {
	sink := &recordingSink{name: "iothub", err: errors.New("connection refused")}
	m := metrics.New()
	var logs bytes.Buffer
	d := NewDispatcher(sink, time.Second, 8, m, logger.NewWithWriter(&logs, "info"))
	d.Start(context.Background())
	defer d.Close()

	for i := uint64(1); i <= 3; i++ {
		d.Publish(message(i))
	}

	require.Eventually(t, func() bool { return m.TelemetryFailed.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, m.TelemetrySent.Load())
	assert.Contains(t, logs.String(), "connection refused")
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	sink := &recordingSink{name: "slow", hold: make(chan struct{})}
	m := metrics.New()
	d := NewDispatcher(sink, time.Minute, 2, m, logger.NewNop())
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 50; i++ {
			d.Publish(message(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow sink")
	}
	assert.LessOrEqual(t, d.Pending(), 2)
	assert.GreaterOrEqual(t, m.TelemetryDropped.Load(), uint64(47))

	close(sink.hold)
	require.NoError(t, d.Close())
}

func TestDispatcher_TimeoutBoundsDelivery(t *testing.T) {
	sink := &recordingSink{name: "stuck", hold: make(chan struct{})}
	m := metrics.New()
	d := NewDispatcher(sink, 20*time.Millisecond, 4, m, logger.NewNop())
	d.Start(context.Background())
	defer d.Close()

	d.Publish(message(1))
	require.Eventually(t, func() bool { return m.TelemetryFailed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMultiSink_AttributesFailures(t *testing.T) {
	ok := &recordingSink{name: "log"}
	bad := &recordingSink{name: "http", err: errors.New("503")}
	multi := NewMultiSink(ok, bad)

	err := multi.Send(context.Background(), message(1))
	require.Error(t, err)
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, []string{"http"}, failedSinks(err, multi.Name()))

	require.NoError(t, multi.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}

type deadlineSink struct {
	name string
	err  chan error
}

func (s *deadlineSink) Name() string { return s.name }

func (s *deadlineSink) Send(ctx context.Context, _ *model.TelemetryMessage) error {
	s.err <- ctx.Err()
	return nil
}

func (s *deadlineSink) Close() error { return nil }

func TestMultiSink_SlowSinkDoesNotStarveOthers(t *testing.T) {
	slow := &recordingSink{name: "iothub", hold: make(chan struct{})}
	local := &deadlineSink{name: "sqlite", err: make(chan error, 1)}
	multi := NewMultiSink(slow, local)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := multi.Send(ctx, message(1))
	assert.Equal(t, []string{"iothub"}, failedSinks(err, multi.Name()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, <-local.err)
}

func TestFailedSinks_Fallback(t *testing.T) {
	assert.Equal(t, []string{"iothub"}, failedSinks(errors.New("boom"), "iothub"))
}

func TestHTTPSink_Send(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "secret")
	msg := message(42)
	msg.ObjectsDetected = append(msg.ObjectsDetected, model.TelemetryObject{ID: 0, Label: "person", Score: 0.9})

	require.NoError(t, sink.Send(context.Background(), msg))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, float64(42), gotBody["frame_count"])
	objects := gotBody["objects_detected"].([]any)
	require.Len(t, objects, 1)
	assert.Equal(t, "person", objects[0].(map[string]any)["label"])
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, "").Send(context.Background(), message(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logger.NewWithWriter(&buf, "info"))

	require.NoError(t, sink.Send(context.Background(), message(5)))
	assert.Contains(t, buf.String(), `"frame_count":5`)
	assert.Contains(t, buf.String(), `"objects_detected":[]`)
}

type fakeJournal struct {
	saved []*model.TelemetryMessage
}

func (j *fakeJournal) SaveTelemetry(_ context.Context, msg *model.TelemetryMessage) error {
	j.saved = append(j.saved, msg)
	return nil
}

type fakeBroadcaster struct {
	got []*model.TelemetryMessage
}

func (b *fakeBroadcaster) BroadcastTelemetry(msg *model.TelemetryMessage) error {
	b.got = append(b.got, msg)
	return nil
}

func TestLocalSinks(t *testing.T) {
	j := &fakeJournal{}
	js := NewJournalSink(j)
	require.NoError(t, js.Send(context.Background(), message(3)))
	require.NoError(t, js.Close())
	assert.Len(t, j.saved, 1)
	assert.Equal(t, "sqlite", js.Name())

	b := &fakeBroadcaster{}
	vs := NewViewerSink(b)
	require.NoError(t, vs.Send(context.Background(), message(4)))
	assert.Equal(t, uint64(4), b.got[0].FrameCount)
	assert.Equal(t, "websocket", vs.Name())
}
