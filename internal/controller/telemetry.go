package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/minifc/internal/hardware"
	"github.com/nerrad567/minifc/internal/metrics"
	"github.com/nerrad567/minifc/internal/telemetry"
)

// DefaultTelemetryPeriod is the default sample period.
const DefaultTelemetryPeriod = time.Second

// TelemetryMessage is published once per tick.
type TelemetryMessage struct {
	Version  string           `json:"version"`
	Data     []map[string]any `json:"data"`
	DeviceID string           `json:"device_id"`
}

// TelemetrySink receives every actuator sample in addition to the bus.
// *influxdb.Client satisfies it.
type TelemetrySink interface {
	WriteActuatorReading(deviceID, sensorID string, fields map[string]any, at time.Time)
}

// TelemetryOptions configures a TelemetryPublisher.
type TelemetryOptions struct {
	DeviceID string
	Topic    string
	Version  string
	Period   time.Duration

	// SensorPrefix forms sensor ids as "<prefix>_<servo id, two digits>".
	SensorPrefix string

	// IncludeTemperature adds present_temperature to every record.
	IncludeTemperature bool

	Logger  Logger
	Metrics *metrics.Metrics
	Sink    TelemetrySink

	// Ticker overrides the period ticker, for tests.
	Ticker func(d time.Duration) (<-chan time.Time, func())
	Now    func() time.Time
}

// TelemetryPublisher samples every actuator at a fixed period and
// publishes the readings. It is never gated by run/stop.
type TelemetryPublisher struct {
	group     *hardware.Group
	publisher Publisher
	opts      TelemetryOptions
	logger    Logger
}

// NewTelemetryPublisher creates a publisher over group.
func NewTelemetryPublisher(group *hardware.Group, publisher Publisher, opts TelemetryOptions) *TelemetryPublisher {
	if opts.Period <= 0 {
		opts.Period = DefaultTelemetryPeriod
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Ticker == nil {
		opts.Ticker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	return &TelemetryPublisher{group: group, publisher: publisher, opts: opts, logger: opts.Logger}
}

// Run publishes one message per tick until ctx is done.
func (p *TelemetryPublisher) Run(ctx context.Context) error {
	ticks, stop := p.opts.Ticker(p.opts.Period)
	defer stop()

	p.logger.Info("telemetry loop started", "period", p.opts.Period, "topic", p.opts.Topic)
	defer p.logger.Info("telemetry loop stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			p.tick(ctx)
		}
	}
}

func (p *TelemetryPublisher) tick(ctx context.Context) {
	p.opts.Metrics.TelemetryTick()
	msg := p.Sample(ctx)

	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("encoding telemetry failed", "error", err)
		return
	}
	if err := p.publisher.PublishEvent(p.opts.Topic, payload); err != nil {
		p.logger.Warn("telemetry publish failed", "error", err)
		p.opts.Metrics.PublishFailed(metrics.PublishTelemetry)
	}
}

// Sample reads every actuator and builds one message. Fields with no
// current reading are null. Read failures are logged and fall back to
// the cache, which reports only unexpired values.
func (p *TelemetryPublisher) Sample(ctx context.Context) TelemetryMessage {
	actuators := p.group.Actuators()
	msg := TelemetryMessage{
		Version:  p.opts.Version,
		Data:     make([]map[string]any, 0, len(actuators)),
		DeviceID: p.opts.DeviceID,
	}

	for _, a := range actuators {
		reading := p.read(ctx, a.Name)
		at := p.opts.Now()
		sensorID := fmt.Sprintf("%s_%02d", p.opts.SensorPrefix, a.ServoID)

		fields := reading.Fields()
		if !p.opts.IncludeTemperature {
			delete(fields, telemetry.FieldPresentTemperature)
		}

		record := make(map[string]any, len(fields)+2)
		for k, v := range fields {
			record[k] = v
		}
		record["sensor_id"] = sensorID
		record["ts"] = at.Format(time.RFC3339Nano)
		msg.Data = append(msg.Data, record)

		if p.opts.Sink != nil {
			p.opts.Sink.WriteActuatorReading(p.opts.DeviceID, sensorID, fields, at)
		}
	}
	return msg
}

func (p *TelemetryPublisher) read(ctx context.Context, name string) hardware.Reading {
	if !p.group.Available() {
		return p.group.Cached(name)
	}
	reading, err := p.group.Read(ctx, name)
	if err != nil {
		p.logger.Warn("actuator read failed", "actuator", name, "error", err)
		return p.group.Cached(name)
	}
	return reading
}
