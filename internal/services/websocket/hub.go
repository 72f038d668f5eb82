package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"coralcam/internal/logger"
	"coralcam/internal/model"

	"github.com/gorilla/websocket"
)

// ErrHubBusy is returned when the broadcast buffer is full and a message was dropped.
var ErrHubBusy = errors.New("viewer hub busy")

const writeWait = 2 * time.Second

// DefaultViewerTimeout is how long a viewer may stay silent before it is dropped.
const DefaultViewerTimeout = 60 * time.Second

// FrameMessage carries one annotated JPEG frame.
type FrameMessage struct {
	Type  string `json:"type"`
	Image string `json:"image"` // base64 JPEG
}

// TelemetryMessage carries the telemetry of one frame.
type TelemetryMessage struct {
	Type    string                  `json:"type"`
	Message *model.TelemetryMessage `json:"message"`
}

type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     *logger.Logger

	onChange func(clients int)
	timeout  time.Duration
	done     chan struct{}
}

// NewHubService creates a hub. onChange, if not nil, is called with the new
// viewer count whenever a viewer joins or leaves.
func NewHubService(logger *logger.Logger, onChange func(clients int)) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 8),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		onChange:   onChange,
		timeout:    DefaultViewerTimeout,
		done:       make(chan struct{}),
	}
}

// SetViewerTimeout changes the viewer read timeout. Viewers are pinged at 9/10
// of it. Must be called before Run.
func (h *HubService) SetViewerTimeout(d time.Duration) {
	h.timeout = d
}

// ViewerTimeout is the read deadline a viewer connection is given after each pong.
func (h *HubService) ViewerTimeout() time.Duration {
	return h.timeout
}

// Run serves registrations and broadcasts until ctx is done, then closes all viewers.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	ping := time.NewTicker(h.timeout * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ping.C:
			h.pingAll()

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)
			h.changed(count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", count)
			h.changed(count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			before := len(h.clients)
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warning("Error sending to viewer: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			count := len(h.clients)
			h.mutex.Unlock()
			if count != before {
				h.changed(count)
			}
		}
	}
}

// pingAll keeps idle viewers alive; their pong handler extends the read deadline.
func (h *HubService) pingAll() {
	h.mutex.Lock()
	before := len(h.clients)
	for client := range h.clients {
		if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.logger.Debug("Ping to viewer failed: %v", err)
			delete(h.clients, client)
			client.Close()
		}
	}
	count := len(h.clients)
	h.mutex.Unlock()
	if count != before {
		h.changed(count)
	}
}

func (h *HubService) changed(count int) {
	if h.onChange != nil {
		h.onChange(count)
	}
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a raw message for all viewers without blocking.
func (h *HubService) Broadcast(message []byte) error {
	select {
	case h.broadcast <- message:
		return nil
	default:
		return ErrHubBusy
	}
}

// BroadcastFrame sends an encoded JPEG to all viewers. Frames are skipped while nobody watches.
func (h *HubService) BroadcastFrame(jpeg []byte) error {
	if h.GetClientCount() == 0 {
		return nil
	}
	msg, err := json.Marshal(FrameMessage{Type: "frame", Image: base64.StdEncoding.EncodeToString(jpeg)})
	if err != nil {
		return err
	}
	return h.Broadcast(msg)
}

// BroadcastTelemetry sends a telemetry message to all viewers.
func (h *HubService) BroadcastTelemetry(m *model.TelemetryMessage) error {
	if h.GetClientCount() == 0 {
		return nil
	}
	msg, err := json.Marshal(TelemetryMessage{Type: "telemetry", Message: m})
	if err != nil {
		return err
	}
	return h.Broadcast(msg)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
