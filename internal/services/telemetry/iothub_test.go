package telemetry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"coralcam/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "c2VjcmV0LWRldmljZS1rZXk=" // base64("secret-device-key")

func TestParseConnectionString(t *testing.T) {
	cs, err := ParseConnectionString("HostName=hub.azure-devices.net;DeviceId=coral-1;SharedAccessKey=" + testKey)
	require.NoError(t, err)
	assert.Equal(t, "hub.azure-devices.net", cs.HostName)
	assert.Equal(t, "coral-1", cs.DeviceID)
	assert.Equal(t, testKey, cs.SharedAccessKey)
	assert.Equal(t, "hub.azure-devices.net/devices/coral-1", cs.ResourceURI())
}

func TestParseConnectionString_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "HostName, DeviceId, SharedAccessKey"},
		{"missing key", "HostName=h;DeviceId=d", "SharedAccessKey"},
		{"malformed segment", "HostName=h;garbage", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConnectionString(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSASToken(t *testing.T) {
	expiry := time.Unix(1700000000, 0)
	token, err := SASToken("hub.azure-devices.net/devices/coral-1", testKey, expiry)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(token, "SharedAccessSignature "))
	values, err := url.ParseQuery(strings.TrimPrefix(token, "SharedAccessSignature "))
	require.NoError(t, err)

	assert.Equal(t, "hub.azure-devices.net/devices/coral-1", values.Get("sr"))
	assert.Equal(t, "1700000000", values.Get("se"))

	mac := hmac.New(sha256.New, []byte("secret-device-key"))
	mac.Write([]byte(url.QueryEscape("hub.azure-devices.net/devices/coral-1") + "\n1700000000"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), values.Get("sig"))
}

func TestSASToken_BadKey(t *testing.T) {
	_, err := SASToken("hub/devices/d", "not base64!", time.Now())
	assert.Error(t, err)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	mqtt.Client
	connected bool
	calls     []publishCall
}

func (c *fakeMQTT) IsConnected() bool      { return c.connected }
func (c *fakeMQTT) IsConnectionOpen() bool { return c.connected }
func (c *fakeMQTT) Disconnect(uint)        { c.connected = false }

func (c *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.calls = append(c.calls, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(nil)
}

func newTestIoTHubSink(client mqtt.Client) *IoTHubSink {
	return &IoTHubSink{
		cs:     ConnectionString{HostName: "hub.azure-devices.net", DeviceID: "coral-1", SharedAccessKey: testKey},
		client: client,
		log:    logger.NewNop(),
	}
}

func TestIoTHubSink_Send(t *testing.T) {
	client := &fakeMQTT{connected: true}
	sink := newTestIoTHubSink(client)

	msg := message(12)
	msg.MessageID = "7d3c1f6e-0000-4000-8000-000000000001"
	require.NoError(t, sink.Send(context.Background(), msg))

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, byte(1), call.qos)
	assert.Equal(t, "devices/coral-1/messages/events/$.ct=application%2Fjson&$.ce=utf-8&$.mid=7d3c1f6e-0000-4000-8000-000000000001", call.topic)

	var body map[string]any
	require.NoError(t, json.Unmarshal(call.payload, &body))
	assert.Equal(t, float64(12), body["frame_count"])

	require.NoError(t, sink.Close())
	assert.False(t, client.connected)
}

func TestIoTHubSink_NotConnected(t *testing.T) {
	sink := newTestIoTHubSink(&fakeMQTT{})
	err := sink.Send(context.Background(), message(1))
	assert.Error(t, err)
}

func TestIoTHubSink_Credentials(t *testing.T) {
	sink := newTestIoTHubSink(&fakeMQTT{})
	user, pass := sink.credentials()
	assert.Equal(t, "hub.azure-devices.net/coral-1/?api-version=2021-04-12", user)
	assert.True(t, strings.HasPrefix(pass, "SharedAccessSignature sr="))
}

func TestNewIoTHubSink_RejectsBadConnectionString(t *testing.T) {
	_, err := NewIoTHubSink("HostName=h;DeviceId=d;SharedAccessKey=???", logger.NewNop())
	assert.Error(t, err)
}
