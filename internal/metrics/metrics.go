package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. Counters are plain atomics so the
// stages can update them cheaply; Prometheus reads them through func collectors.
type Metrics struct {
	FramesCaptured  atomic.Uint64
	FramesInferred  atomic.Uint64
	FramesDisplayed atomic.Uint64
	ObjectsDetected atomic.Uint64

	CaptureDropped atomic.Uint64 // Evicted from the capture queue
	DisplayDropped atomic.Uint64 // Evicted from the display queue

	InferenceErrors  atomic.Uint64
	TelemetrySent    atomic.Uint64
	TelemetryDropped atomic.Uint64
	TelemetryFailed  atomic.Uint64

	inferenceNanos atomic.Uint64 // Sum of all inference durations
	lastInference  atomic.Int64  // Nanoseconds

	viewers atomic.Int64

	started time.Time

	inferenceLatency prometheus.Histogram
	telemetryErrors  *prometheus.CounterVec
	registry         *prometheus.Registry
}

// Stats is a point-in-time summary, served by /api/stats and printed at exit.
type Stats struct {
	Uptime           string  `json:"uptime"`
	FramesCaptured   uint64  `json:"frames_captured"`
	FramesInferred   uint64  `json:"frames_inferred"`
	FramesDisplayed  uint64  `json:"frames_displayed"`
	ObjectsDetected  uint64  `json:"objects_detected"`
	CaptureDropped   uint64  `json:"capture_dropped"`
	DisplayDropped   uint64  `json:"display_dropped"`
	InferenceErrors  uint64  `json:"inference_errors"`
	TelemetrySent    uint64  `json:"telemetry_sent"`
	TelemetryDropped uint64  `json:"telemetry_dropped"`
	TelemetryFailed  uint64  `json:"telemetry_failed"`
	AvgInferenceMs   float64 `json:"avg_inference_ms"`
	LastInferenceMs  float64 `json:"last_inference_ms"`
	InferenceRateFPS float64 `json:"inference_rate_fps"`
	Viewers          int64   `json:"viewers"`
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		started:  time.Now(),
		registry: prometheus.NewRegistry(),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coralcam_inference_duration_seconds",
			Help:    "Time spent in the inference engine per frame",
			Buckets: []float64{.002, .005, .01, .02, .05, .1, .2, .5, 1},
		}),
		telemetryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coralcam_telemetry_errors_total",
			Help: "Failed telemetry deliveries by sink",
		}, []string{"sink"}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.inferenceLatency, m.telemetryErrors)

	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}
	counter("coralcam_frames_captured_total", "Frames read from the camera", &m.FramesCaptured)
	counter("coralcam_frames_inferred_total", "Frames passed through the inference engine", &m.FramesInferred)
	counter("coralcam_frames_displayed_total", "Frames rendered to the display surface", &m.FramesDisplayed)
	counter("coralcam_objects_detected_total", "Objects retained after threshold and top-k", &m.ObjectsDetected)
	counter("coralcam_inference_errors_total", "Frames skipped because the engine failed", &m.InferenceErrors)
	counter("coralcam_telemetry_sent_total", "Telemetry messages delivered", &m.TelemetrySent)
	counter("coralcam_telemetry_dropped_total", "Telemetry messages evicted before delivery", &m.TelemetryDropped)

	dropped := prometheus.NewDesc("coralcam_frames_dropped_total", "Frames evicted from a full queue", []string{"queue"}, nil)
	m.registry.MustRegister(&droppedCollector{desc: dropped, m: m})

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "coralcam_live_viewers",
			Help: "Connected websocket viewers",
		},
		func() float64 { return float64(m.viewers.Load()) },
	))
}

// droppedCollector exports both queue drop counters under one metric name.
type droppedCollector struct {
	desc *prometheus.Desc
	m    *Metrics
}

func (c *droppedCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *droppedCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.m.CaptureDropped.Load()), "capture")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.m.DisplayDropped.Load()), "display")
}

// ObserveInference records one successful engine invocation.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.FramesInferred.Add(1)
	m.inferenceNanos.Add(uint64(d.Nanoseconds()))
	m.lastInference.Store(d.Nanoseconds())
	m.inferenceLatency.Observe(d.Seconds())
}

// TelemetryError counts a failed delivery for the named sink.
func (m *Metrics) TelemetryError(sink string) {
	m.TelemetryFailed.Add(1)
	m.telemetryErrors.WithLabelValues(sink).Inc()
}

// SetViewers updates the live viewer gauge.
func (m *Metrics) SetViewers(n int) {
	m.viewers.Store(int64(n))
}

// Snapshot returns the current statistics.
func (m *Metrics) Snapshot() Stats {
	s := Stats{
		Uptime:           time.Since(m.started).Round(time.Second).String(),
		FramesCaptured:   m.FramesCaptured.Load(),
		FramesInferred:   m.FramesInferred.Load(),
		FramesDisplayed:  m.FramesDisplayed.Load(),
		ObjectsDetected:  m.ObjectsDetected.Load(),
		CaptureDropped:   m.CaptureDropped.Load(),
		DisplayDropped:   m.DisplayDropped.Load(),
		InferenceErrors:  m.InferenceErrors.Load(),
		TelemetrySent:    m.TelemetrySent.Load(),
		TelemetryDropped: m.TelemetryDropped.Load(),
		TelemetryFailed:  m.TelemetryFailed.Load(),
		LastInferenceMs:  float64(m.lastInference.Load()) / float64(time.Millisecond),
		Viewers:          m.viewers.Load(),
	}
	total := time.Duration(m.inferenceNanos.Load())
	if s.FramesInferred > 0 && total > 0 {
		s.AvgInferenceMs = float64(total) / float64(s.FramesInferred) / float64(time.Millisecond)
		s.InferenceRateFPS = float64(s.FramesInferred) / total.Seconds()
	}
	return s
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
