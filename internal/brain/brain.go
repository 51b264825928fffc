// Package brain implements the master brain: it listens to stage events
// and button readings, routes them to desired shadow state and stores
// artefacts uploaded by the arms.
package brain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/minifc/internal/infrastructure/mqtt"
	"github.com/nerrad567/minifc/internal/journal"
	"github.com/nerrad567/minifc/internal/metrics"
	"github.com/nerrad567/minifc/internal/router"
)

const defaultApplyTimeout = 5 * time.Second

// Logger is the logging interface used by the brain.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Subscriber registers topic handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Shadow is the part of the shadow service the brain drives.
// *shadow.Service satisfies it.
type Shadow interface {
	RecordStart(ctx context.Context, thing string) error
	UpdateDesired(ctx context.Context, thing string, patch map[string]any) error
}

// Options configures a Brain.
type Options struct {
	// Thing is the shadow all patches are applied to.
	Thing string

	// Topics are subscribed at Start.
	Topics []string
	QoS    byte

	Router  router.Router
	Logger  Logger
	Metrics *metrics.Metrics
	Journal journal.Repository

	// OnPatch is called after each applied patch.
	OnPatch func(source string, patch router.Patch)

	// ApplyTimeout bounds one patch. Defaults to 5s.
	ApplyTimeout time.Duration
}

// Brain routes device messages into desired shadow state.
type Brain struct {
	sub    Subscriber
	shadow Shadow
	opts   Options
	logger Logger
}

// New creates a brain.
func New(sub Subscriber, shadow Shadow, opts Options) *Brain {
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = defaultApplyTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Brain{sub: sub, shadow: shadow, opts: opts, logger: logger}
}

// Start records the start time in the shadow, so a device's first get
// has something to return, then subscribes to the configured topics.
func (b *Brain) Start(ctx context.Context) error {
	if b.opts.Thing == "" {
		return errors.New("brain: thing name is required")
	}
	if err := b.shadow.RecordStart(ctx, b.opts.Thing); err != nil {
		return fmt.Errorf("recording start: %w", err)
	}
	for _, topic := range b.opts.Topics {
		if err := b.sub.Subscribe(topic, b.opts.QoS, b.Handle); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	b.logger.Info("brain started", "thing", b.opts.Thing, "topics", b.opts.Topics)
	return nil
}

// Handle routes one bus message. Undecodable payloads and unknown sources
// are logged and dropped; a failed patch is returned so the transport
// logs it.
func (b *Brain) Handle(topic string, payload []byte) error {
	msg, err := router.Decode(payload)
	if err != nil {
		b.logger.Warn("dropping undecodable message", "topic", topic, "error", err)
		return nil
	}

	source := msg.Source()
	if !b.opts.Router.Known(source) {
		b.logger.Debug("message from unrouted source", "topic", topic, "source", source)
		return nil
	}

	var errs []error
	for _, patch := range b.opts.Router.Route(source, msg) {
		if err := b.apply(source, msg.Stage, patch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Brain) apply(source, stage string, patch router.Patch) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.ApplyTimeout)
	defer cancel()

	if err := b.shadow.UpdateDesired(ctx, b.opts.Thing, patch); err != nil {
		return fmt.Errorf("applying patch from %s: %w", source, err)
	}
	b.opts.Metrics.PatchRouted()
	b.logger.Info("desired state updated", "source", source, "patch", map[string]any(patch))
	if b.opts.OnPatch != nil {
		b.opts.OnPatch(source, patch)
	}

	if b.opts.Journal != nil {
		err := b.opts.Journal.Record(ctx, journal.Event{
			DeviceID: source,
			Kind:     journal.KindPatch,
			Stage:    stage,
			Detail:   patch,
		})
		if err != nil {
			b.logger.Warn("journal write failed", "error", err)
		}
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
