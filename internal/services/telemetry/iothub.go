package telemetry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coralcam/internal/logger"
	"coralcam/internal/model"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	iotHubAPIVersion = "2021-04-12"
	iotHubPort       = 8883
	sasTokenLifetime = time.Hour
)

// ConnectionString is a parsed Azure IoT Hub device connection string.
type ConnectionString struct {
	HostName        string
	DeviceID        string
	SharedAccessKey string
}

// ParseConnectionString parses "HostName=...;DeviceId=...;SharedAccessKey=...".
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return cs, fmt.Errorf("malformed connection string segment %q", part)
		}
		switch key {
		case "HostName":
			cs.HostName = value
		case "DeviceId":
			cs.DeviceID = value
		case "SharedAccessKey":
			cs.SharedAccessKey = value
		}
	}
	var missing []string
	if cs.HostName == "" {
		missing = append(missing, "HostName")
	}
	if cs.DeviceID == "" {
		missing = append(missing, "DeviceId")
	}
	if cs.SharedAccessKey == "" {
		missing = append(missing, "SharedAccessKey")
	}
	if len(missing) != 0 {
		return cs, fmt.Errorf("connection string is missing %s", strings.Join(missing, ", "))
	}
	return cs, nil
}

// ResourceURI is the device scope a SAS token grants access to.
func (cs ConnectionString) ResourceURI() string {
	return cs.HostName + "/devices/" + cs.DeviceID
}

// SASToken builds a shared access signature for resourceURI valid until expiry.
func SASToken(resourceURI, key string, expiry time.Time) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("shared access key is not valid base64: %w", err)
	}
	sr := url.QueryEscape(resourceURI)
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, decoded)
	mac.Write([]byte(sr + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s", sr, url.QueryEscape(sig), se), nil
}

// IoTHubSink sends device-to-cloud messages to Azure IoT Hub over MQTT.
type IoTHubSink struct {
	cs     ConnectionString
	client mqtt.Client
	log    *logger.Logger
}

// NewIoTHubSink validates the connection string and prepares an MQTT client.
// Call Connect before sending.
func NewIoTHubSink(connectionString string, log *logger.Logger) (*IoTHubSink, error) {
	cs, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	if _, err := SASToken(cs.ResourceURI(), cs.SharedAccessKey, time.Now()); err != nil {
		return nil, err
	}

	s := &IoTHubSink{cs: cs, log: log}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", cs.HostName, iotHubPort)).
		SetClientID(cs.DeviceID).
		SetProtocolVersion(4).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12, ServerName: cs.HostName}).
		SetCredentialsProvider(s.credentials).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warning("IoT Hub connection lost: %v", err)
		})
	s.client = mqtt.NewClient(opts)
	return s, nil
}

// credentials issues a fresh SAS token on every (re)connect.
func (s *IoTHubSink) credentials() (string, string) {
	username := fmt.Sprintf("%s/%s/?api-version=%s", s.cs.HostName, s.cs.DeviceID, iotHubAPIVersion)
	token, err := SASToken(s.cs.ResourceURI(), s.cs.SharedAccessKey, time.Now().Add(sasTokenLifetime))
	if err != nil {
		s.log.Error("Failed to create SAS token: %v", err)
	}
	return username, token
}

// Connect opens the MQTT session, waiting at most timeout. After a timeout
// the client keeps retrying in the background and Send fails until it succeeds.
func (s *IoTHubSink) Connect(timeout time.Duration) error {
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out connecting to %s, retrying in the background", s.cs.HostName)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.cs.HostName, err)
	}
	s.log.Info("Connected to IoT Hub %s as %s", s.cs.HostName, s.cs.DeviceID)
	return nil
}

func (s *IoTHubSink) Name() string { return "iothub" }

// Topic returns the device-to-cloud topic carrying the message properties.
func (s *IoTHubSink) Topic(messageID string) string {
	props := "$.ct=application%2Fjson&$.ce=utf-8"
	if messageID != "" {
		props += "&$.mid=" + url.QueryEscape(messageID)
	}
	return "devices/" + s.cs.DeviceID + "/messages/events/" + props
}

func (s *IoTHubSink) Send(ctx context.Context, msg *model.TelemetryMessage) error {
	if !s.client.IsConnectionOpen() {
		return errors.New("not connected to IoT Hub")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	id := msg.MessageID
	if id == "" {
		id = uuid.NewString()
	}

	token := s.client.Publish(s.Topic(id), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *IoTHubSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}
