package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/minifc/internal/gate"
	"github.com/nerrad567/minifc/internal/journal"
	"github.com/nerrad567/minifc/internal/metrics"
	"github.com/nerrad567/minifc/internal/shadow"
)

// DefaultAckTimeout bounds the acknowledgment update.
const DefaultAckTimeout = 5 * time.Second

// Command outcomes, used for metrics and the journal.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
)

// ShadowUpdater sends shadow updates. *shadow.Handler satisfies it.
type ShadowUpdater interface {
	Update(payload []byte, callback shadow.Callback, timeout time.Duration) (string, error)
}

// KeyHandler applies an extra delta key. It returns the value to report
// back, or an error to log and skip the acknowledgment.
type KeyHandler func(ctx context.Context, value any) (ack any, err error)

// SyncOptions configures a SyncAdapter.
type SyncOptions struct {
	DeviceID   string
	CommandKey string
	AckTimeout time.Duration
	Logger     Logger
	Metrics    *metrics.Metrics
	Journal    journal.Repository
}

// SyncAdapter feeds shadow deltas into the gate and reports applied
// commands back to the shadow.
//
// Deliveries are assumed to be serialised by the transport; the adapter
// holds no lock across the gate or the shadow.
type SyncAdapter struct {
	gate    *gate.Gate
	shadow  ShadowUpdater
	opts    SyncOptions
	logger  Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	extra map[string]KeyHandler
	order []string
}

// NewSyncAdapter creates an adapter recognising opts.CommandKey.
func NewSyncAdapter(g *gate.Gate, updater ShadowUpdater, opts SyncOptions) *SyncAdapter {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &SyncAdapter{
		gate:    g,
		shadow:  updater,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		extra:   make(map[string]KeyHandler),
	}
}

// HandleKey registers a handler for an additional delta key, applied
// after the command key in registration order.
func (a *SyncAdapter) HandleKey(key string, fn KeyHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.extra[key]; !ok {
		a.order = append(a.order, key)
	}
	a.extra[key] = fn
}

// HandleDelta is the shadow callback for deltas and for the adapter's own
// acknowledgment replies. Its signature matches shadow.Callback.
func (a *SyncAdapter) HandleDelta(payload []byte, status shadow.Status, token string) {
	if string(payload) == shadow.RequestTimeout {
		a.logger.Error("shadow request timed out", "token", token)
		a.metrics.Command(OutcomeTimeout)
		return
	}
	a.Handle(context.Background(), payload)
}

// Handle applies one delta document of the form {"state": {...}}.
// Malformed payloads and unknown keys are logged and ignored.
func (a *SyncAdapter) Handle(ctx context.Context, payload []byte) {
	var doc struct {
		State map[string]json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		a.logger.Warn("malformed shadow payload", "error", err)
		return
	}
	if doc.State == nil {
		a.logger.Debug("shadow payload without state")
		return
	}

	if raw, ok := doc.State[a.opts.CommandKey]; ok {
		a.applyCommand(ctx, raw)
	}

	a.mu.RLock()
	keys := append([]string(nil), a.order...)
	a.mu.RUnlock()
	for _, key := range keys {
		raw, ok := doc.State[key]
		if !ok {
			continue
		}
		a.mu.RLock()
		fn := a.extra[key]
		a.mu.RUnlock()
		a.applyKey(ctx, key, raw, fn)
	}
}

func (a *SyncAdapter) applyCommand(ctx context.Context, raw json.RawMessage) {
	key := a.opts.CommandKey
	var cmd string
	if err := json.Unmarshal(raw, &cmd); err != nil {
		a.reject(ctx, key, string(bytes.TrimSpace(raw)))
		return
	}
	if err := a.gate.Activate(cmd); err != nil {
		a.reject(ctx, key, cmd)
		return
	}

	a.metrics.Command(OutcomeAccepted)
	a.record(ctx, key, cmd, OutcomeAccepted)
	a.Acknowledge(key, cmd)
}

func (a *SyncAdapter) applyKey(ctx context.Context, key string, raw json.RawMessage, fn KeyHandler) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		a.reject(ctx, key, string(raw))
		return
	}
	ack, err := fn(ctx, value)
	if err != nil {
		a.logger.Warn("shadow key not applied", "key", key, "value", value, "error", err)
		a.metrics.Command(OutcomeRejected)
		a.record(ctx, key, value, OutcomeRejected)
		return
	}
	a.metrics.Command(OutcomeAccepted)
	a.record(ctx, key, value, OutcomeAccepted)
	a.Acknowledge(key, ack)
}

func (a *SyncAdapter) reject(ctx context.Context, key string, value any) {
	a.logger.Warn("unknown command ignored", "key", key, "value", value)
	a.metrics.Command(OutcomeRejected)
	a.record(ctx, key, value, OutcomeRejected)
}

// Acknowledge reports key=value in the shadow's reported state. The
// update's reply is routed back to HandleDelta. Failures are logged, not
// retried.
func (a *SyncAdapter) Acknowledge(key string, value any) {
	payload, err := json.Marshal(map[string]any{
		"state": map[string]any{
			"reported": map[string]any{key: value},
		},
	})
	if err != nil {
		a.logger.Error("encoding acknowledgment failed", "key", key, "error", err)
		return
	}
	if _, err := a.shadow.Update(payload, a.HandleDelta, a.opts.AckTimeout); err != nil {
		a.logger.Warn("acknowledgment failed", "key", key, "error", err)
		a.metrics.PublishFailed(metrics.PublishAck)
	}
}

func (a *SyncAdapter) record(ctx context.Context, key string, value any, outcome string) {
	if a.opts.Journal == nil {
		return
	}
	err := a.opts.Journal.Record(ctx, journal.Event{
		DeviceID: a.opts.DeviceID,
		Kind:     journal.KindCommand,
		Detail:   map[string]any{"key": key, "value": value, "outcome": outcome},
	})
	if err != nil {
		a.logger.Warn("journal write failed", "error", err)
	}
}
