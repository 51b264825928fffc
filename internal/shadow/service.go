package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/minifc/internal/infrastructure/mqtt"
)

// Service answers shadow requests for every thing on the bus and owns
// their documents.
//
// Requests are applied one at a time, so version numbers are strictly
// increasing per thing.
type Service struct {
	transport Transport
	store     Store
	qos       byte
	logger    Logger
	topics    mqtt.Topics
	now       func() time.Time

	mu sync.Mutex
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	QoS    byte
	Logger Logger
	Now    func() time.Time
}

// NewService creates a shadow service.
func NewService(transport Transport, store Store, opts ServiceOptions) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		transport: transport,
		store:     store,
		qos:       opts.QoS,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Start subscribes to get and update requests for all things.
func (s *Service) Start() error {
	if s.transport == nil {
		return ErrNoTransport
	}
	if err := s.transport.Subscribe(s.topics.AllShadowRequests(), s.qos, s.handleRequest); err != nil {
		return fmt.Errorf("subscribing to shadow requests: %w", err)
	}
	return nil
}

// RecordStart writes the service start time to reported.lambda_start of
// thing.
func (s *Service) RecordStart(ctx context.Context, thing string) error {
	_, err := s.apply(ctx, thing, State{Reported: map[string]any{
		"lambda_start": s.now().UTC().Format(time.RFC3339),
	}})
	return err
}

// UpdateDesired merges patch into the desired state of thing and
// publishes the resulting delta.
func (s *Service) UpdateDesired(ctx context.Context, thing string, patch map[string]any) error {
	_, err := s.apply(ctx, thing, State{Desired: patch})
	return err
}

// Document returns a copy of the stored document of thing.
func (s *Service) Document(ctx context.Context, thing string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Load(ctx, thing)
}

// =============================================================================
// Request Handling
// =============================================================================

type updateRequest struct {
	State       *State `json:"state"`
	ClientToken string `json:"clientToken,omitempty"`
}

type errorReply struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	ClientToken string `json:"clientToken,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

type stateReply struct {
	State       State  `json:"state"`
	Version     int64  `json:"version"`
	Timestamp   int64  `json:"timestamp"`
	ClientToken string `json:"clientToken,omitempty"`
}

func (s *Service) handleRequest(topic string, payload []byte) error {
	thing, op, suffix, ok := mqtt.ParseShadowTopic(topic)
	if !ok || suffix != "" {
		return nil
	}

	ctx := context.Background()
	var req updateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.reject(thing, op, "", 400, "payload contains invalid json")
		return nil
	}

	switch op {
	case mqtt.OpGet:
		s.mu.Lock()
		doc, err := s.store.Load(ctx, thing)
		s.mu.Unlock()
		if err != nil {
			s.reject(thing, op, req.ClientToken, 500, "internal error")
			return err
		}
		s.reply(thing, op, stateReply{
			State:       State{Desired: doc.Desired, Reported: doc.Reported, Delta: doc.Delta()},
			Version:     doc.Version,
			Timestamp:   s.now().Unix(),
			ClientToken: req.ClientToken,
		})

	case mqtt.OpUpdate:
		if req.State == nil || (req.State.Desired == nil && req.State.Reported == nil) {
			s.reject(thing, op, req.ClientToken, 400, "missing required node: state")
			return nil
		}
		version, err := s.apply(ctx, thing, *req.State)
		if err != nil {
			s.reject(thing, op, req.ClientToken, 500, "internal error")
			return err
		}
		s.reply(thing, op, stateReply{
			State:       *req.State,
			Version:     version,
			Timestamp:   s.now().Unix(),
			ClientToken: req.ClientToken,
		})
	}
	return nil
}

// apply merges patch, persists the document and publishes the delta when
// the desired state was touched and differs from the reported state.
func (s *Service) apply(ctx context.Context, thing string, patch State) (int64, error) {
	s.mu.Lock()
	doc, err := s.store.Load(ctx, thing)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	doc.Apply(patch, s.now())
	if err := s.store.Save(ctx, doc); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	version, diff := doc.Version, doc.Delta()
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("shadow updated", "thing", thing, "version", version)
	}
	if patch.Desired != nil && diff != nil {
		s.publish(s.topics.ShadowDelta(thing), stateDelta{State: diff, Version: version, Timestamp: s.now().Unix()})
	}
	return version, nil
}

type stateDelta struct {
	State     map[string]any `json:"state"`
	Version   int64          `json:"version"`
	Timestamp int64          `json:"timestamp"`
}

func (s *Service) reply(thing, op string, body stateReply) {
	s.publish(s.topics.ShadowReply(thing, op, mqtt.SuffixAccepted), body)
}

func (s *Service) reject(thing, op, token string, code int, msg string) {
	if s.logger != nil {
		s.logger.Warn("shadow request rejected", "thing", thing, "op", op, "code", code, "reason", msg)
	}
	s.publish(s.topics.ShadowReply(thing, op, mqtt.SuffixRejected), errorReply{
		Code:        code,
		Message:     msg,
		ClientToken: token,
		Timestamp:   s.now().Unix(),
	})
}

func (s *Service) publish(topic string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("encoding shadow message failed", "topic", topic, "error", err)
		}
		return
	}
	if err := s.transport.PublishEvent(topic, payload); err != nil && s.logger != nil {
		s.logger.Warn("shadow publish failed", "topic", topic, "error", err)
	}
}
