package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/minifc/internal/infrastructure/config"
)

const (
	defaultPingTimeout   = 5 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Options tune the sink beyond what the config file carries.
type Options struct {
	// OnError receives asynchronous write failures. Nil drops them after
	// counting.
	OnError func(err error)

	// PingTimeout bounds every ping, including the one in Connect.
	// Zero means 5s.
	PingTimeout time.Duration
}

// Stats counts what went through the sink.
type Stats struct {
	// Queued is the number of points handed to the batching writer.
	Queued uint64
	// Dropped is the number of points refused because the sink was closed.
	Dropped uint64
	// Failed is the number of asynchronous write errors reported.
	Failed uint64
}

// Client is the optional telemetry and stage sink.
//
// Points are handed to the library's batching writer and never block the
// caller; once Close has run, further points are counted and dropped.
// All methods are safe for concurrent use.
type Client struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	onError     func(error)
	pingTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once

	queued  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Connect pings the server and starts the batching writer for the
// configured bucket.
//
// Returns:
//   - *Client: Sink ready for WriteActuatorReading and WriteStageEvent
//   - error: ErrDisabled, or ErrUnreachable wrapping the ping failure
func Connect(ctx context.Context, cfg config.InfluxDBConfig, opts Options) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}

	c := &Client{
		client:      influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg)),
		onError:     opts.OnError,
		pingTimeout: opts.PingTimeout,
	}
	if err := c.Ping(ctx); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, cfg.URL, err)
	}

	c.writeAPI = c.client.WriteAPI(cfg.Org, cfg.Bucket)
	go c.countErrors(c.writeAPI.Errors())
	return c, nil
}

// writeOptions maps the config batch settings onto the library options.
// flush_interval is in seconds; the library wants milliseconds.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// countErrors runs until the writer closes its error channel on Close.
func (c *Client) countErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)
		if c.onError != nil {
			c.onError(err)
		}
	}
}

// Ping checks the server, bounded by the configured ping timeout.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil || c.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server reports unhealthy")
	}
	return nil
}

// Stats returns the point counters.
func (c *Client) Stats() Stats {
	return Stats{
		Queued:  c.queued.Load(),
		Dropped: c.dropped.Load(),
		Failed:  c.failed.Load(),
	}
}

// Close flushes queued points and releases the client. Safe to call more
// than once.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.writeAPI != nil {
			c.writeAPI.Flush()
		}
		c.client.Close()
	})
	return nil
}
