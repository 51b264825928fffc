package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/minifc/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "minifc-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		Timeouts: config.MQTTTimeoutsConfig{
			Connect: 2 * time.Second,
			Publish: time.Second,
		},
	}
}

// requireBroker skips the test unless a broker is listening locally.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
	conn.Close()
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *mockLogger) Info(string, ...any) {}

// =============================================================================
// Offline Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	c := &Client{}
	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"invalid qos", "/arm/stages", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "/arm/stages", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"not connected", "/arm/stages", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("/t", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("/t", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("/t", 0, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscriptions must not be tracked")
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{opts: Options{Logger: logger}}

	c.dispatch(func(string, []byte) error { panic("boom") }, "/arm/stages", nil)

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
}

func TestDispatch_LogsHandlerError(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{opts: Options{Logger: logger}}

	c.dispatch(func(string, []byte) error { return fmt.Errorf("bad payload") }, "/arm/stages", nil)

	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

func TestDispatch_NoLogger(t *testing.T) {
	c := &Client{}
	// Must not panic without a logger.
	c.dispatch(func(string, []byte) error { panic("boom") }, "/t", nil)
}

func TestPresencePayload(t *testing.T) {
	var msg presenceMessage
	if err := json.Unmarshal(presence("sort_arm_ggd", statusOffline, reasonLost), &msg); err != nil {
		t.Fatalf("presence() is not JSON: %v", err)
	}
	if msg.Status != "offline" || msg.ClientID != "sort_arm_ggd" || msg.Reason != "unexpected_disconnect" {
		t.Errorf("presence = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", msg.Timestamp, err)
	}

	raw := string(presence("belt_ggd", statusOnline, ""))
	if strings.Contains(raw, "reason") {
		t.Errorf("online presence carries a reason: %s", raw)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "arm"
	opts := clientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != "minifc/status/minifc-test" {
		t.Errorf("will = %v %v %q", opts.WillEnabled, opts.WillRetained, opts.WillTopic)
	}
	if opts.WriteTimeout != time.Second || opts.ConnectTimeout != 2*time.Second {
		t.Errorf("timeouts = %v write, %v connect", opts.WriteTimeout, opts.ConnectTimeout)
	}
	if !opts.CleanSession || opts.Username != "arm" || opts.TLSConfig == nil {
		t.Errorf("options = clean %v, user %q, tls %v", opts.CleanSession, opts.Username, opts.TLSConfig)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"DeviceStatus", topics.DeviceStatus("sort_arm_ggd"), "minifc/status/sort_arm_ggd"},
		{"ShadowOp get", topics.ShadowOp("master_brain", OpGet), "$aws/things/master_brain/shadow/get"},
		{"ShadowReply", topics.ShadowReply("master_brain", OpUpdate, SuffixAccepted), "$aws/things/master_brain/shadow/update/accepted"},
		{"ShadowDelta", topics.ShadowDelta("master_brain"), "$aws/things/master_brain/shadow/update/delta"},
		{"AllShadowRequests", topics.AllShadowRequests(), "$aws/things/+/shadow/+"},
	}

	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
		}
	}
}

func TestParseShadowTopic(t *testing.T) {
	tests := []struct {
		topic                string
		thing, op, suffix    string
		ok                   bool
	}{
		{"$aws/things/master_brain/shadow/get", "master_brain", OpGet, "", true},
		{"$aws/things/master_brain/shadow/update/delta", "master_brain", OpUpdate, SuffixDelta, true},
		{"$aws/things/x/shadow/update/accepted", "x", OpUpdate, SuffixAccepted, true},
		{"$aws/things/x/shadow/delete", "", "", "", false},
		{"$aws/things//shadow/get", "", "", "", false},
		{"/arm/stages", "", "", "", false},
		{"$aws/things/x/other/get", "", "", "", false},
	}

	for _, tt := range tests {
		thing, op, suffix, ok := ParseShadowTopic(tt.topic)
		if ok != tt.ok || thing != tt.thing || op != tt.op || suffix != tt.suffix {
			t.Errorf("ParseShadowTopic(%q) = (%q, %q, %q, %v), want (%q, %q, %q, %v)",
				tt.topic, thing, op, suffix, ok, tt.thing, tt.op, tt.suffix, tt.ok)
		}
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig(), Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg, Options{})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	requireBroker(t)

	pubCfg := testConfig()
	pubCfg.Broker.ClientID = "minifc-test-pub"
	pub, err := Connect(pubCfg, Options{})
	if err != nil {
		t.Fatalf("Connect(pub) error = %v", err)
	}
	defer pub.Close()

	subCfg := testConfig()
	subCfg.Broker.ClientID = "minifc-test-sub"
	sub, err := Connect(subCfg, Options{})
	if err != nil {
		t.Fatalf("Connect(sub) error = %v", err)
	}
	defer sub.Close()

	topic := "minifc/test/roundtrip"
	received := make(chan []byte, 1)
	if err := sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d after Subscribe, want 1", sub.SubscriptionCount())
	}

	if err := pub.PublishEvent(topic, []byte(`{"stage":"home"}`)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"stage":"home"}` {
			t.Errorf("received %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := sub.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Unsubscribe, want 0", sub.SubscriptionCount())
	}
}
