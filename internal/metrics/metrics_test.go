package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("sort_arm_ggd")

	m.StageRun("home")
	m.StageRun("home")
	m.StageRun("find")
	if got := testutil.ToFloat64(m.stageRuns.WithLabelValues("home")); got != 2 {
		t.Errorf("stage_runs_total{stage=home} = %v, want 2", got)
	}

	m.PublishFailed(PublishTelemetry)
	if got := testutil.ToFloat64(m.publishFailures.WithLabelValues(PublishTelemetry)); got != 1 {
		t.Errorf("publish_failures_total{kind=telemetry} = %v, want 1", got)
	}

	m.TelemetryTick()
	m.TelemetryTick()
	if got := testutil.ToFloat64(m.telemetryTicks); got != 2 {
		t.Errorf("telemetry_ticks_total = %v, want 2", got)
	}

	m.SetGateArmed(true)
	if got := testutil.ToFloat64(m.gateArmed); got != 1 {
		t.Errorf("gate_armed = %v, want 1", got)
	}
	m.SetGateArmed(false)
	if got := testutil.ToFloat64(m.gateArmed); got != 0 {
		t.Errorf("gate_armed = %v, want 0", got)
	}

	m.Command("rejected")
	m.EmergencyStop("refused")
	m.PatchRouted()
	if got := testutil.ToFloat64(m.emergencyStops.WithLabelValues("refused")); got != 1 {
		t.Errorf("emergency_stops_total{outcome=refused} = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.StageRun("home")
	m.PublishFailed(PublishStage)
	m.TelemetryTick()
	m.SetGateArmed(true)
	m.Command("accepted")
	m.EmergencyStop("held")
	m.PatchRouted()
	if m.Registry() != nil {
		t.Error("Registry() on nil metrics should be nil")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New("belt_ggd")
	m.StageRun("roll")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body) //nolint:errcheck // recorder body
	if !strings.Contains(string(body), `minifc_stage_runs_total{device_id="belt_ggd",stage="roll"} 1`) {
		t.Errorf("exposition missing stage counter:\n%s", body)
	}
}
