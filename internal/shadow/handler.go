package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/minifc/internal/infrastructure/mqtt"
)

// RequestTimeout is the payload delivered to a request callback when no
// reply arrived before the request's timeout.
const RequestTimeout = "REQUEST TIME OUT"

// DefaultTimeout bounds requests issued with a zero timeout.
const DefaultTimeout = 5 * time.Second

// Status tells a Callback why it was invoked.
type Status string

// Callback statuses.
const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
	StatusDelta    Status = "delta"
)

// Callback receives shadow replies and deltas. token is the clientToken
// of the request, empty for deltas.
//
// Callbacks run on the transport's delivery goroutine or, for timeouts,
// on a timer goroutine. They must not block.
type Callback func(payload []byte, status Status, token string)

// Transport is the subset of *mqtt.Client used by the shadow package.
type Transport interface {
	PublishEvent(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is the logging interface used by the shadow package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type pendingRequest struct {
	op       string
	callback Callback
	timer    *time.Timer
}

// Handler is the device-side view of one thing's shadow.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Handler struct {
	transport Transport
	thing     string
	qos       byte
	timeout   time.Duration
	logger    Logger
	topics    mqtt.Topics

	mu      sync.Mutex
	pending map[string]*pendingRequest
	onDelta Callback
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	QoS     byte
	Timeout time.Duration
	Logger  Logger
}

// NewHandler creates a handler bound to thing. Call Start before issuing
// requests.
func NewHandler(transport Transport, thing string, opts HandlerOptions) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Handler{
		transport: transport,
		thing:     thing,
		qos:       opts.QoS,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		pending:   make(map[string]*pendingRequest),
	}
}

// Thing returns the thing name the handler is bound to.
func (h *Handler) Thing() string {
	return h.thing
}

// Start subscribes to the reply and delta topics of the thing.
// A failure is a bring-up failure.
func (h *Handler) Start() error {
	if h.transport == nil {
		return ErrNoTransport
	}
	for _, op := range []string{mqtt.OpGet, mqtt.OpUpdate} {
		for _, suffix := range []string{mqtt.SuffixAccepted, mqtt.SuffixRejected} {
			if err := h.transport.Subscribe(h.topics.ShadowReply(h.thing, op, suffix), h.qos, h.handleReply); err != nil {
				return fmt.Errorf("subscribing to shadow %s/%s: %w", op, suffix, err)
			}
		}
	}
	if err := h.transport.Subscribe(h.topics.ShadowDelta(h.thing), h.qos, h.handleDelta); err != nil {
		return fmt.Errorf("subscribing to shadow delta: %w", err)
	}
	return nil
}

// OnDelta registers the callback for delta deliveries, replacing any
// earlier one.
func (h *Handler) OnDelta(callback Callback) {
	h.mu.Lock()
	h.onDelta = callback
	h.mu.Unlock()
}

// Get requests the full document. The reply, or RequestTimeout, is
// delivered to callback.
func (h *Handler) Get(callback Callback, timeout time.Duration) (string, error) {
	return h.request(mqtt.OpGet, map[string]any{}, callback, timeout)
}

// Update sends a state patch such as {"state":{"reported":{...}}}.
//
// Parameters:
//   - payload: JSON object; a clientToken is added to it
//   - callback: Receives the accepted/rejected reply or RequestTimeout
//   - timeout: Reply deadline, DefaultTimeout when zero
//
// Returns:
//   - string: The clientToken of the request
//   - error: ErrInvalidPayload, or the publish failure
func (h *Handler) Update(payload []byte, callback Callback, timeout time.Duration) (string, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil || body == nil {
		return "", ErrInvalidPayload
	}
	return h.request(mqtt.OpUpdate, body, callback, timeout)
}

// Fetch issues a Get and waits for its reply.
func (h *Handler) Fetch(ctx context.Context) ([]byte, error) {
	type reply struct {
		payload []byte
		status  Status
	}
	ch := make(chan reply, 1)
	_, err := h.Get(func(payload []byte, status Status, _ string) {
		ch <- reply{payload: payload, status: status}
	}, 0)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		switch r.status {
		case StatusAccepted:
			return r.payload, nil
		case StatusRejected:
			return r.payload, fmt.Errorf("%w: %s", ErrRejected, r.payload)
		default:
			return nil, ErrRequestTimeout
		}
	}
}

// Pending returns the number of requests awaiting a reply.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func (h *Handler) request(op string, body map[string]any, callback Callback, timeout time.Duration) (string, error) {
	if h.transport == nil {
		return "", ErrNoTransport
	}
	if timeout <= 0 {
		timeout = h.timeout
	}

	token := uuid.NewString()
	body["clientToken"] = token
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding shadow %s: %w", op, err)
	}

	req := &pendingRequest{op: op, callback: callback}
	h.mu.Lock()
	h.pending[token] = req
	req.timer = time.AfterFunc(timeout, func() { h.expire(token) })
	h.mu.Unlock()

	if err := h.transport.PublishEvent(h.topics.ShadowOp(h.thing, op), payload); err != nil {
		h.mu.Lock()
		delete(h.pending, token)
		h.mu.Unlock()
		req.timer.Stop()
		return "", fmt.Errorf("publishing shadow %s: %w", op, err)
	}
	return token, nil
}

func (h *Handler) expire(token string) {
	h.mu.Lock()
	req, ok := h.pending[token]
	delete(h.pending, token)
	h.mu.Unlock()
	if !ok {
		return
	}
	if h.logger != nil {
		h.logger.Warn("shadow request timed out", "thing", h.thing, "op", req.op, "token", token)
	}
	if req.callback != nil {
		req.callback([]byte(RequestTimeout), StatusTimeout, token)
	}
}

func (h *Handler) handleReply(topic string, payload []byte) error {
	_, op, suffix, ok := mqtt.ParseShadowTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected shadow topic %q", topic)
	}

	var envelope struct {
		ClientToken string `json:"clientToken"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decoding shadow %s reply: %w", op, err)
	}

	h.mu.Lock()
	req, found := h.pending[envelope.ClientToken]
	if found {
		delete(h.pending, envelope.ClientToken)
		req.timer.Stop()
	}
	h.mu.Unlock()

	// Replies to other clients' requests share the topic.
	if !found {
		return nil
	}
	if req.callback != nil {
		req.callback(payload, Status(suffix), envelope.ClientToken)
	}
	return nil
}

func (h *Handler) handleDelta(_ string, payload []byte) error {
	h.mu.Lock()
	cb := h.onDelta
	h.mu.Unlock()
	if cb != nil {
		cb(payload, StatusDelta, "")
	}
	return nil
}
