package handlers

import (
	"net/http"

	"coralcam/internal/logger"
	"coralcam/internal/metrics"
	"coralcam/internal/pipeline"
)

// PipelineStatus is implemented by *pipeline.Pipeline.
type PipelineStatus interface {
	State() pipeline.State
	Stats() metrics.Stats
}

type statsResponse struct {
	State string `json:"state"`
	metrics.Stats
}

// StatsHandler returns the pipeline state and its counters as JSON.
func StatsHandler(p PipelineStatus, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, statsResponse{State: p.State().String(), Stats: p.Stats()})
	}
}

// HealthHandler answers 200 while the pipeline is running and 503 otherwise.
func HealthHandler(p PipelineStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := p.State()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if state != pipeline.StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(state.String()))
	}
}
