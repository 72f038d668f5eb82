package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coralcam/internal/logger"
	"coralcam/internal/services/websocket"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewWebsocketHandler_IdleViewerStaysConnected(t *testing.T) {
	hub := websocket.NewHubService(logger.NewNop(), nil)
	hub.SetViewerTimeout(200 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(ViewWebsocketHandler(hub, logger.NewNop()))
	t.Cleanup(srv.Close)

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// The viewer never writes; reading lets the default ping handler answer with pongs.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(time.Second)
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestViewWebsocketHandler_SilentPeerIsDropped(t *testing.T) {
	hub := websocket.NewHubService(logger.NewNop(), nil)
	hub.SetViewerTimeout(200 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(ViewWebsocketHandler(hub, logger.NewNop()))
	t.Cleanup(srv.Close)

	// Without a read loop the client never answers pings.
	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}
