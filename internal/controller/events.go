package controller

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/minifc/internal/metrics"
)

// Stage event texts.
const (
	TextBegin = "begin"
	TextEnd   = "end"
)

// StageEvent is published at every stage boundary.
type StageEvent struct {
	Stage       string `json:"stage"`
	AddlText    string `json:"addl_text"`
	StageResult any    `json:"stage_result"`
	TS          string `json:"ts"`
	DeviceID    string `json:"device_id"`
}

// Sink receives every emitted stage event after it was published.
// Sinks run on the emitting goroutine and must not block.
type Sink func(StageEvent)

// Events publishes stage events for one device.
type Events struct {
	deviceID  string
	topic     string
	publisher Publisher
	logger    Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu    sync.RWMutex
	sinks []Sink
}

// EventsOptions configures Events.
type EventsOptions struct {
	Logger  Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// NewEvents creates an emitter publishing to topic.
func NewEvents(deviceID, topic string, publisher Publisher, opts EventsOptions) *Events {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Events{
		deviceID:  deviceID,
		topic:     topic,
		publisher: publisher,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// AddSink registers fn to receive every subsequent event.
func (e *Events) AddSink(fn Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, fn)
	e.mu.Unlock()
}

// Emit publishes a stage event. A publish failure is logged and counted,
// never returned.
func (e *Events) Emit(stage, text string, result any) StageEvent {
	ev := StageEvent{
		Stage:       stage,
		AddlText:    text,
		StageResult: result,
		TS:          e.now().Format(time.RFC3339Nano),
		DeviceID:    e.deviceID,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("encoding stage event failed", "stage", stage, "error", err)
		return ev
	}
	if e.publisher != nil {
		if err := e.publisher.PublishEvent(e.topic, payload); err != nil {
			e.logger.Warn("stage event publish failed", "stage", stage, "text", text, "error", err)
			e.metrics.PublishFailed(metrics.PublishStage)
		}
	}

	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()
	for _, sink := range sinks {
		sink(ev)
	}
	return ev
}
