package handlers

import (
	"net/http"
	"time"

	"coralcam/internal/logger"
	"coralcam/internal/services/websocket"

	gorilla "github.com/gorilla/websocket"
)

var Upgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers the connection as a live viewer until it disconnects.
func ViewWebsocketHandler(hub *websocket.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warning("WebSocket upgrade error: %v", err)
			return
		}
		timeout := hub.ViewerTimeout()
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(timeout))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(timeout))
			return nil
		})

		hub.Register(connection)
		defer hub.Unregister(connection)

		// Viewers never send anything useful; reading only detects the disconnect.
		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logger.Debug("Viewer read ended: %v", err)
				return
			}
			connection.SetReadDeadline(time.Now().Add(timeout))
		}
	}
}
