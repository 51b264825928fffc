package controller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/minifc/internal/gate"
	"github.com/nerrad567/minifc/internal/hardware"
	"github.com/nerrad567/minifc/internal/hardware/sim"
	"github.com/nerrad567/minifc/internal/telemetry"
)

var testActuators = []hardware.Actuator{
	{Name: "base", ServoID: 1},
	{Name: "femur01", ServoID: 2},
	{Name: "effector", ServoID: 5},
}

// mockPublisher records every publish.
type mockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{messages: make(map[string][][]byte)}
}

func (p *mockPublisher) PublishEvent(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages[topic] = append(p.messages[topic], payload)
	return nil
}

func (p *mockPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[topic])
}

func (p *mockPublisher) events(t *testing.T, topic string) []StageEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StageEvent, 0, len(p.messages[topic]))
	for _, raw := range p.messages[topic] {
		var ev StageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("invalid stage event %s: %v", raw, err)
		}
		out = append(out, ev)
	}
	return out
}

// countingLogger counts records per level.
type countingLogger struct {
	mu     sync.Mutex
	warns  int
	errors []string
}

func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Info(string, ...any)  {}

func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func (l *countingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *countingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// fakeStage records its invocations and returns a fixed result.
type fakeStage struct {
	name   string
	result StageResult
	onRun  func(ctx context.Context, env *Env, prior StageResult)

	mu     sync.Mutex
	priors []StageResult
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(ctx context.Context, env *Env, prior StageResult) StageResult {
	s.mu.Lock()
	s.priors = append(s.priors, prior)
	s.mu.Unlock()
	if s.onRun != nil {
		s.onRun(ctx, env, prior)
	}
	return s.result
}

// fakeDevice halts by writing a fixed goal position to every actuator.
type fakeDevice struct {
	stages []Stage

	mu    sync.Mutex
	halts int
}

func (d *fakeDevice) Stages() []Stage { return d.stages }

func (d *fakeDevice) Halt(ctx context.Context, env *Env) StageResult {
	d.mu.Lock()
	d.halts++
	d.mu.Unlock()
	values := make([]int, len(env.Group.Names()))
	for i := range values {
		values[i] = 512
	}
	env.Group.WriteAll(ctx, hardware.RegGoalPosition, values) //nolint:errcheck // best effort in tests
	return StageResult{Text: "halted"}
}

func (d *fakeDevice) haltCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.halts
}

type fixture struct {
	ctrl   *Controller
	device *fakeDevice
	env    *Env
	bus    *sim.Bus
	pub    *mockPublisher
	logger *countingLogger
	clock  *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const stageTopic = "/arm/stages"

func newFixture(t *testing.T, stages ...Stage) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)}
	bus := sim.NewBus(1, 2, 5)
	cache := telemetry.NewCache(120*time.Second, 64, telemetry.WithClock(clock.Now))
	group, err := hardware.NewGroup(bus, testActuators, cache, hardware.Options{})
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	logger := &countingLogger{}
	env := &Env{
		DeviceID: "sort_arm_ggd",
		Group:    group,
		Gate:     gate.New(nil),
		Logger:   logger,
		Pause:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
	pub := newMockPublisher()
	events := NewEvents("sort_arm_ggd", stageTopic, pub, EventsOptions{Logger: logger})
	device := &fakeDevice{stages: stages}
	ctrl := New(device, env, events, Options{ControlPeriod: time.Millisecond})

	return &fixture{ctrl: ctrl, device: device, env: env, bus: bus, pub: pub, logger: logger, clock: clock}
}

// primeCache reads every actuator so present_position is cached.
func (f *fixture) primeCache(t *testing.T) {
	t.Helper()
	for _, name := range f.env.Group.Names() {
		if _, err := f.env.Group.Read(context.Background(), name); err != nil {
			t.Fatalf("Read(%s) error = %v", name, err)
		}
	}
}
