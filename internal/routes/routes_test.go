package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"coralcam/internal/config"
	"coralcam/internal/dto"
	"coralcam/internal/logger"
	"coralcam/internal/metrics"
	"coralcam/internal/model"
	"coralcam/internal/pipeline"
	"coralcam/internal/repository/sqlite"
	"coralcam/internal/services/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	state pipeline.State
	m     *metrics.Metrics
}

func (f *fakePipeline) State() pipeline.State { return f.state }
func (f *fakePipeline) Stats() metrics.Stats  { return f.m.Snapshot() }

type testServer struct {
	*httptest.Server
	pipeline *fakePipeline
	journal  *sqlite.FrameRepository
	logger   *logger.Logger
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	dir := t.TempDir()

	log, err := logger.NewLogger(logger.Options{Directory: filepath.Join(dir, "logs"), Level: "info"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHubService(log, m.SetViewers)
	go hub.Run(ctx)

	cfg := config.Load()
	cfg.ViewerToken = token

	ts := &testServer{
		pipeline: &fakePipeline{state: pipeline.StateRunning, m: m},
		journal:  sqlite.NewFrameRepository(db),
		logger:   log,
	}
	ts.Server = httptest.NewServer(SetupRoutes(Dependencies{
		Config:   cfg,
		Logger:   log,
		Metrics:  m,
		Pipeline: ts.pipeline,
		Hub:      hub,
		Journal:  ts.journal,
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	resp := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "running", string(body))

	ts.pipeline.state = pipeline.StateDraining
	resp = ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/stats", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/stats", "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/stats", "s3cret").StatusCode)

	resp, err := http.Get(ts.URL + "/api/stats?token=s3cret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginCookie(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	resp, err := http.PostForm(ts.URL+"/auth/login", url.Values{"token": {"nope"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.PostForm(ts.URL+"/auth/login", url.Values{"token": {"s3cret"}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/stats", nil)
	req.AddCookie(cookies[0])
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, "")
	ts.pipeline.m.FramesCaptured.Add(3)
	ts.pipeline.m.ObserveInference(20 * time.Millisecond)

	resp := ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, "running", stats["state"])
	assert.Equal(t, 3.0, stats["frames_captured"])
	assert.InDelta(t, 20.0, stats["avg_inference_ms"], 0.001)
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "coralcam_frames_captured_total")
}

func TestDetections(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, label := range []string{"person", "car", "person"} {
		require.NoError(t, ts.journal.SaveTelemetry(ctx, &model.TelemetryMessage{
			FrameCount:      uint64(i + 1),
			InferenceTime:   0.01,
			ObjectsDetected: []model.TelemetryObject{{ID: i, Label: label, Score: 0.75}},
			CapturedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	resp := ts.do(t, http.MethodGet, "/api/detections?label=person&limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data dto.DetectionsData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	assert.Equal(t, 2, data.Length)
	assert.Equal(t, 2, data.TotalPages)
	require.Len(t, data.Frames, 1)
	assert.Equal(t, uint64(3), data.Frames[0].FrameCount)

	resp = ts.do(t, http.MethodGet, "/api/detections/labels", "")
	var counts []dto.LabelCount
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, []dto.LabelCount{{Label: "person", Count: 2}, {Label: "car", Count: 1}}, counts)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodDelete, "/api/detections", "").StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/detections?before=2024-05-01T12:01:30Z", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deleted map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&deleted))
	assert.Equal(t, int64(2), deleted["deleted"])
}

func TestLogs(t *testing.T) {
	ts := newTestServer(t, "")
	ts.logger.Info("hello from the test")

	resp := ts.do(t, http.MethodGet, "/logs/info", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "hello from the test"))

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/logs/debug", "").StatusCode)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/logs/info/clear", "").StatusCode)
}
