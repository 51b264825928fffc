package belt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/minifc/internal/controller"
	"github.com/nerrad567/minifc/internal/gate"
	"github.com/nerrad567/minifc/internal/hardware"
	"github.com/nerrad567/minifc/internal/hardware/sim"
	"github.com/nerrad567/minifc/internal/telemetry"
)

const (
	forward  = DefaultSpeed | 1024
	backward = DefaultSpeed
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type capturePublisher struct {
	mu     sync.Mutex
	events []controller.StageEvent
}

func (p *capturePublisher) PublishEvent(_ string, payload []byte) error {
	var ev controller.StageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) snapshot() []controller.StageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]controller.StageEvent(nil), p.events...)
}

type fixture struct {
	belt   *Belt
	env    *controller.Env
	bus    *sim.Bus
	pub    *capturePublisher
	events *controller.Events
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := sim.NewBus(10, 11)
	group, err := hardware.NewGroup(bus, []hardware.Actuator{
		{Name: "bone", ServoID: 10},
		{Name: "bttwo", ServoID: 11},
	}, telemetry.NewCache(120*time.Second, 64), hardware.Options{})
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}
	env := &controller.Env{
		DeviceID: "belt_ggd",
		Group:    group,
		Gate:     gate.New(nil),
		Logger:   nopLogger{},
	}
	pub := &capturePublisher{}
	return &fixture{
		belt:   New(0),
		env:    env,
		bus:    bus,
		pub:    pub,
		events: controller.NewEvents("belt_ggd", "/belt/stages", pub, controller.EventsOptions{}),
	}
}

// lastSpeed returns the most recent moving_speed written to servo id.
func (f *fixture) lastSpeed(id int) (int, bool) {
	writes := f.bus.Writes()
	for i := len(writes) - 1; i >= 0; i-- {
		if writes[i].ServoID == id && writes[i].Register == hardware.RegMovingSpeed {
			return writes[i].Value, true
		}
	}
	return 0, false
}

func (f *fixture) roll(t *testing.T) controller.StageResult {
	t.Helper()
	return f.belt.Stages()[0].Run(context.Background(), f.env, controller.StageResult{})
}

func TestBelt_Stages(t *testing.T) {
	stages := New(0).Stages()
	if len(stages) != 1 || stages[0].Name() != StageRoll {
		t.Errorf("Stages() = %v, want [roll]", stages)
	}
}

func TestRoll_StartsWhenArmed(t *testing.T) {
	f := newFixture(t)
	f.env.Gate.Activate("run") //nolint:errcheck // known command

	result := f.roll(t)

	if result.Text != TextNotReversed {
		t.Errorf("Text = %q, want %q", result.Text, TextNotReversed)
	}
	if res := result.Payload.(RollResult); !res.Rolling {
		t.Errorf("Payload = %+v, want rolling", res)
	}
	if !f.belt.Rolling() {
		t.Error("Rolling() = false after roll")
	}
	for _, id := range []int{10, 11} {
		if speed, ok := f.lastSpeed(id); !ok || speed != forward {
			t.Errorf("servo %d speed = %d, want %d", id, speed, forward)
		}
	}
}

func TestRoll_AlreadyRollingWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.env.Gate.Activate("run") //nolint:errcheck // known command
	f.roll(t)
	f.bus.ResetWrites()

	result := f.roll(t)
	if !result.Payload.(RollResult).Rolling {
		t.Error("second roll reported not rolling")
	}
	if n := len(f.bus.Writes()); n != 0 {
		t.Errorf("second roll wrote %d registers", n)
	}
}

func TestRoll_DisarmedDoesNotStart(t *testing.T) {
	f := newFixture(t)

	result := f.roll(t)
	if result.Payload.(RollResult).Rolling || f.belt.Rolling() {
		t.Error("roll started a disarmed belt")
	}
	if n := len(f.bus.Writes()); n != 0 {
		t.Errorf("disarmed roll wrote %d registers", n)
	}
}

func TestRoll_WriteFailure(t *testing.T) {
	f := newFixture(t)
	f.env.Gate.Activate("run") //nolint:errcheck // known command
	f.bus.FailNext(11, errors.New("checksum"))

	res := f.roll(t).Payload.(RollResult)
	if res.Rolling || res.Reason == "" {
		t.Errorf("Payload = %+v, want failure", res)
	}
	if f.belt.Rolling() {
		t.Error("belt marked rolling after a failed start")
	}
}

func TestHalt_LeavesWheelMode(t *testing.T) {
	f := newFixture(t)
	f.env.Gate.Activate("run") //nolint:errcheck // known command
	f.roll(t)

	result := f.belt.Halt(context.Background(), f.env)

	if result.Text != TextNotReversed {
		t.Errorf("Text = %q, want %q", result.Text, TextNotReversed)
	}
	if res := result.Payload.(RollResult); res.Rolling || res.Reason != "" {
		t.Errorf("Payload = %+v, want stopped", res)
	}
	if f.belt.Rolling() {
		t.Error("Rolling() = true after Halt")
	}
	for _, id := range []int{10, 11} {
		if speed, _ := f.lastSpeed(id); speed&1023 != 0 {
			t.Errorf("servo %d speed = %d, want 0", id, speed)
		}
	}
}

func TestReverse_WhileRolling(t *testing.T) {
	f := newFixture(t)
	f.env.Gate.Activate("run") //nolint:errcheck // known command
	f.roll(t)
	handler := f.belt.ReverseHandler(f.env, f.events)

	ack, err := handler(context.Background(), float64(1))
	if err != nil {
		t.Fatalf("handler() error = %v", err)
	}
	if ack != float64(1) {
		t.Errorf("ack = %v, want the raw value 1", ack)
	}
	if speed, _ := f.lastSpeed(10); speed != backward {
		t.Errorf("speed = %d, want %d", speed, backward)
	}

	events := f.pub.snapshot()
	if len(events) != 1 || events[0].Stage != StageRoll || events[0].AddlText != TextReversed {
		t.Fatalf("events = %+v, want one roll/reversed", events)
	}
	if result := events[0].StageResult.(map[string]any); result["rolling"] != true {
		t.Errorf("stage_result = %v, want rolling true", result)
	}

	if _, err := handler(context.Background(), false); err != nil {
		t.Fatalf("handler(false) error = %v", err)
	}
	if speed, _ := f.lastSpeed(10); speed != forward {
		t.Errorf("speed = %d, want %d", speed, forward)
	}
}

func TestReverse_WhileStoppedIsRemembered(t *testing.T) {
	f := newFixture(t)
	handler := f.belt.ReverseHandler(f.env, f.events)

	if _, err := handler(context.Background(), true); err != nil {
		t.Fatalf("handler() error = %v", err)
	}
	if n := len(f.bus.Writes()); n != 0 {
		t.Errorf("reverse on a stopped belt wrote %d registers", n)
	}
	if n := len(f.pub.snapshot()); n != 0 {
		t.Errorf("reverse on a stopped belt published %d events", n)
	}

	f.env.Gate.Activate("run") //nolint:errcheck // known command
	if got := f.roll(t).Text; got != TextReversed {
		t.Errorf("roll Text = %q, want %q", got, TextReversed)
	}
	if speed, _ := f.lastSpeed(10); speed != backward {
		t.Errorf("speed = %d, want %d", speed, backward)
	}
}

func TestReverse_SameDirectionChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.env.Gate.Activate("run") //nolint:errcheck // known command
	f.roll(t)
	handler := f.belt.ReverseHandler(f.env, f.events)
	if _, err := handler(context.Background(), true); err != nil {
		t.Fatalf("handler(true) error = %v", err)
	}
	f.bus.ResetWrites()
	published := len(f.pub.snapshot())

	ack, err := handler(context.Background(), float64(1))
	if err != nil {
		t.Fatalf("handler(1) error = %v", err)
	}
	if ack != float64(1) {
		t.Errorf("ack = %v, want the raw value 1", ack)
	}
	if n := len(f.bus.Writes()); n != 0 {
		t.Errorf("repeated reverse wrote %d registers, want 0", n)
	}
	if n := len(f.pub.snapshot()); n != published {
		t.Errorf("repeated reverse published %d events, want none", n-published)
	}
	if !f.belt.Reversed() {
		t.Error("Reversed() = false, want true")
	}
}

func TestReverse_InvalidValues(t *testing.T) {
	f := newFixture(t)
	handler := f.belt.ReverseHandler(f.env, f.events)

	for _, v := range []any{"yes", float64(2), nil, 0.5} {
		if _, err := handler(context.Background(), v); !errors.Is(err, ErrInvalidReverse) {
			t.Errorf("handler(%v) error = %v, want ErrInvalidReverse", v, err)
		}
	}
	if f.belt.Reversed() {
		t.Error("invalid value changed the direction")
	}
}

func TestNew_Speed(t *testing.T) {
	if b := New(0); b.speed != DefaultSpeed {
		t.Errorf("New(0).speed = %d, want %d", b.speed, DefaultSpeed)
	}
	if b := New(300); b.speed != 300 {
		t.Errorf("New(300).speed = %d, want 300", b.speed)
	}
}
