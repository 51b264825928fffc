package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/minifc/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger used by the client.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// MessageHandler receives one message. A returned error is logged; it
// never reaches paho.
type MessageHandler func(topic string, payload []byte) error

// Options are the process hooks attached at Connect.
type Options struct {
	// Logger receives reconnects, lost connections, handler errors and
	// recovered panics.
	Logger Logger

	// OnConnect runs after every (re)connect, once subscriptions have been
	// restored.
	OnConnect func()
}

// Client is a device's or the brain's connection to the fleet broker.
//
// Every broker round trip is bounded by the configured publish timeout so
// the stage and telemetry loops never stall on a slow broker. Subscriptions
// are remembered and restored after a reconnect. All methods are safe for
// concurrent use.
type Client struct {
	client   pahomqtt.Client
	clientID string
	qos      byte
	timeout  time.Duration
	opts     Options

	connected atomic.Bool

	mu     sync.Mutex
	routes map[string]route
}

type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits up to mqtt.timeouts.connect for the
// session. A failure is a bring-up failure: without the bus the device has
// no control channel.
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed wrapping the cause
func Connect(cfg config.MQTTConfig, opts Options) (*Client, error) {
	if cfg.Timeouts.Connect <= 0 {
		cfg.Timeouts.Connect = defaultConnectTimeout
	}
	if cfg.Timeouts.Publish <= 0 {
		cfg.Timeouts.Publish = defaultPublishTimeout
	}
	c := &Client{
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS),
		timeout:  cfg.Timeouts.Publish,
		opts:     opts,
		routes:   make(map[string]route),
	}

	po := clientOptions(cfg)
	po.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })
	po.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("mqtt reconnecting", "broker", cfg.Broker.Host)
	})
	c.client = pahomqtt.NewClient(po)

	if err := await(c.client.Connect(), cfg.Timeouts.Connect); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// paho runs the connect handler asynchronously; callers may publish
	// as soon as Connect returns.
	c.connected.Store(true)
	return c, nil
}

// await waits for token up to timeout.
func await(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("no acknowledgement within %v", timeout)
	}
	return token.Error()
}

func (c *Client) onConnect() {
	c.connected.Store(true)

	c.mu.Lock()
	for topic, r := range c.routes {
		c.client.Subscribe(topic, r.qos, c.deliver(r.handler))
	}
	c.mu.Unlock()

	c.client.Publish(Topics{}.DeviceStatus(c.clientID), c.qos, true, presence(c.clientID, statusOnline, ""))

	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	c.log().Warn("mqtt connection lost", "error", err)
}

// Close announces a graceful offline status and disconnects. Closing a
// client that never connected is not an error.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(Topics{}.DeviceStatus(c.clientID), c.qos, true,
			presence(c.clientID, statusOffline, reasonShutdown))
		if err := await(token, c.timeout); err != nil {
			c.log().Warn("mqtt offline status not acknowledged", "error", err)
		}
	}
	c.client.Disconnect(disconnectQuiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

func (c *Client) log() Logger {
	if c.opts.Logger == nil {
		return nopLogger{}
	}
	return c.opts.Logger
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Info(string, ...any)  {}
