// Package metrics exposes Prometheus counters and gauges for a device
// process.
//
// Every method is safe on a nil *Metrics, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "minifc"

// Publish kinds used as the "kind" label of publish failures.
const (
	PublishStage     = "stage"
	PublishTelemetry = "telemetry"
	PublishAck       = "ack"
)

// Metrics holds the collectors of one process on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	stageRuns       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	telemetryTicks  prometheus.Counter
	gateArmed       prometheus.Gauge
	commands        *prometheus.CounterVec
	emergencyStops  *prometheus.CounterVec
	routedPatches   prometheus.Counter
}

// New creates the collectors and registers them, along with the Go and
// process collectors, on a new registry.
func New(deviceID string) *Metrics {
	labels := prometheus.Labels{"device_id": deviceID}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stage_runs_total",
			Help:        "Stages executed, by stage name.",
			ConstLabels: labels,
		}, []string{"stage"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "publish_failures_total",
			Help:        "Fire-and-forget publishes that failed, by message kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		telemetryTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "telemetry_ticks_total",
			Help:        "Telemetry publisher ticks.",
			ConstLabels: labels,
		}),
		gateArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "gate_armed",
			Help:        "1 while the run gate is armed.",
			ConstLabels: labels,
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_total",
			Help:        "Remote commands received, by outcome (accepted, rejected, timeout).",
			ConstLabels: labels,
		}, []string{"outcome"}),
		emergencyStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "emergency_stops_total",
			Help:        "Emergency stops, by outcome (held, refused, partial).",
			ConstLabels: labels,
		}, []string{"outcome"}),
		routedPatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "routed_patches_total",
			Help:        "Desired-state patches applied by the brain router.",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		m.stageRuns, m.publishFailures, m.telemetryTicks, m.gateArmed,
		m.commands, m.emergencyStops, m.routedPatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StageRun counts one stage execution.
func (m *Metrics) StageRun(stage string) {
	if m != nil {
		m.stageRuns.WithLabelValues(stage).Inc()
	}
}

// PublishFailed counts a failed publish of the given kind.
func (m *Metrics) PublishFailed(kind string) {
	if m != nil {
		m.publishFailures.WithLabelValues(kind).Inc()
	}
}

// TelemetryTick counts one telemetry tick.
func (m *Metrics) TelemetryTick() {
	if m != nil {
		m.telemetryTicks.Inc()
	}
}

// SetGateArmed records the gate value.
func (m *Metrics) SetGateArmed(armed bool) {
	if m == nil {
		return
	}
	if armed {
		m.gateArmed.Set(1)
	} else {
		m.gateArmed.Set(0)
	}
}

// Command counts a remote command by outcome.
func (m *Metrics) Command(outcome string) {
	if m != nil {
		m.commands.WithLabelValues(outcome).Inc()
	}
}

// EmergencyStop counts an emergency stop by outcome.
func (m *Metrics) EmergencyStop(outcome string) {
	if m != nil {
		m.emergencyStops.WithLabelValues(outcome).Inc()
	}
}

// PatchRouted counts a desired-state patch applied by the brain.
func (m *Metrics) PatchRouted() {
	if m != nil {
		m.routedPatches.Inc()
	}
}
