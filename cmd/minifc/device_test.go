package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/minifc/internal/controller"
	"github.com/nerrad567/minifc/internal/hardware"
	"github.com/nerrad567/minifc/internal/hardware/sim"
	"github.com/nerrad567/minifc/internal/infrastructure/logging"
	"github.com/nerrad567/minifc/internal/telemetry"
)

type nopPublisher struct{}

func (nopPublisher) PublishEvent(string, []byte) error { return nil }

// lingeringLoop keeps running for a while after cancellation and records
// whether the bus was already closed when it returned.
type lingeringLoop struct {
	bus    *sim.Bus
	linger time.Duration

	mu           sync.Mutex
	returned     bool
	closedOnExit bool
}

func (l *lingeringLoop) Run(ctx context.Context) error {
	<-ctx.Done()
	time.Sleep(l.linger)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.returned = true
	l.closedOnExit = l.bus.Closed()
	return nil
}

func (l *lingeringLoop) result() (returned, closedOnExit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.returned, l.closedOnExit
}

func TestRunLoops_ClosesBusAfterEveryLoop(t *testing.T) {
	bus := sim.NewBus(1, 2)
	group, err := hardware.NewGroup(bus, []hardware.Actuator{
		{Name: "base", ServoID: 1},
		{Name: "femur01", ServoID: 2},
	}, telemetry.NewCache(time.Minute, 16), hardware.Options{})
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	publisher := controller.NewTelemetryPublisher(group, nopPublisher{}, controller.TelemetryOptions{
		DeviceID: "sort_arm_ggd",
		Topic:    "/arm/telemetry",
		Period:   5 * time.Millisecond,
	})
	fast := &lingeringLoop{bus: bus}
	slow := &lingeringLoop{bus: bus, linger: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runLoops(ctx, logging.Discard(), group, publisher, fast, slow)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if bus.Closed() {
		t.Fatal("bus closed while the loops were running")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runLoops did not return after cancel")
	}

	for name, l := range map[string]*lingeringLoop{"fast": fast, "slow": slow} {
		returned, closedOnExit := l.result()
		if !returned {
			t.Errorf("%s loop had not returned when runLoops did", name)
		}
		if closedOnExit {
			t.Errorf("%s loop saw a closed bus before it returned", name)
		}
	}
	if !bus.Closed() {
		t.Error("bus still open after runLoops returned")
	}
}
