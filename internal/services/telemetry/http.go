package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"coralcam/internal/model"
)

// HTTPSink POSTs each message as JSON to a fixed URL.
type HTTPSink struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPSink creates a sink for url. token, if set, is sent as a bearer token.
func NewHTTPSink(url, token string) *HTTPSink {
	return &HTTPSink{
		url:    url,
		token:  token,
		client: &http.Client{},
	}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Send(ctx context.Context, msg *model.TelemetryMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.MessageID != "" {
		req.Header.Set("X-Message-Id", msg.MessageID)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telemetry endpoint returned %v (%s)", resp.Status, bytes.TrimSpace(detail))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
