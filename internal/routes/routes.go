package routes

import (
	"net/http"

	"coralcam/internal/config"
	"coralcam/internal/handlers"
	"coralcam/internal/logger"
	"coralcam/internal/metrics"
	"coralcam/internal/middleware"
	"coralcam/internal/repository"
	"coralcam/internal/services/websocket"
)

// Dependencies are the services the HTTP API exposes. Journal may be nil when
// the sqlite sink is disabled.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	Pipeline handlers.PipelineStatus
	Hub      *websocket.HubService
	Journal  repository.FrameRepository
}

// SetupRoutes registers the live view, status, journal and log endpoints and
// wraps the mux with the authentication middleware.
func SetupRoutes(d Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Live view and status
	mux.HandleFunc("GET /api/view", handlers.ViewWebsocketHandler(d.Hub, d.Logger))
	mux.HandleFunc("GET /api/stats", handlers.StatsHandler(d.Pipeline, d.Logger))
	mux.HandleFunc("GET /healthz", handlers.HealthHandler(d.Pipeline))
	mux.Handle("GET /metrics", d.Metrics.Handler())

	// Detection journal
	if d.Journal != nil {
		mux.HandleFunc("GET /api/detections", handlers.ListDetectionsHandler(d.Journal, d.Logger))
		mux.HandleFunc("GET /api/detections/labels", handlers.LabelCountsHandler(d.Journal, d.Logger))
		mux.HandleFunc("DELETE /api/detections", handlers.PruneDetectionsHandler(d.Journal, d.Logger))
	}

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handlers.ShowLogsHandler(d.Logger))
	mux.HandleFunc("POST /logs/{level}/clear", handlers.ClearLogsHandler(d.Logger))

	// Auth endpoints
	mux.HandleFunc("POST /auth/login", handlers.LoginHandler(d.Config, d.Logger))
	mux.HandleFunc("POST /auth/logout", handlers.LogoutHandler)

	return middleware.AuthMiddleware(d.Config.ViewerToken, mux)
}
