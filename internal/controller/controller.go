package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/minifc/internal/hardware"
	"github.com/nerrad567/minifc/internal/metrics"
	"github.com/nerrad567/minifc/internal/telemetry"
)

// State is the active state of a device.
type State string

// Device states.
const (
	StateInitialized State = "initialized"
	StateRun         State = "run"
	StateStop        State = "stop"
	StateStopped     State = "stopped"
)

// DefaultControlPeriod is the pause between two passes.
const DefaultControlPeriod = 300 * time.Millisecond

// StageStop names the event announcing a completed stop transition.
const StageStop = "stop"

// StageResult is what a stage hands to the next stage and publishes in
// its end event.
type StageResult struct {
	// Text is the addl_text of the end event; TextEnd when empty.
	Text string

	// Payload is published as stage_result. Stages type-assert the
	// payload of their predecessor; nil publishes as null.
	Payload any
}

func (r StageResult) text() string {
	if r.Text == "" {
		return TextEnd
	}
	return r.Text
}

// Stage is one step of a device's sequence.
type Stage interface {
	Name() string

	// Run executes the stage. prior is the result of the stage before it
	// in the same pass, or the zero value for the first stage. Stages that
	// loop internally must poll env.Running between iterations.
	Run(ctx context.Context, env *Env, prior StageResult) StageResult
}

// Device is a concrete machine: its ordered stages and its stop action.
type Device interface {
	Stages() []Stage

	// Halt brings the hardware to a safe configuration. Its result is
	// published as a "stop" stage event.
	Halt(ctx context.Context, env *Env) StageResult
}

// Options configures a Controller.
type Options struct {
	ControlPeriod time.Duration
	Metrics       *metrics.Metrics
}

// Controller drives a Device through its stages while the gate is armed.
//
// Thread Safety:
//   - State, Stop and EmergencyStop are safe for concurrent use.
//   - Run must be called from a single goroutine.
type Controller struct {
	device  Device
	stages  []Stage
	env     *Env
	events  *Events
	period  time.Duration
	logger  Logger
	metrics *metrics.Metrics

	// stopMu serialises Stop and EmergencyStop.
	stopMu sync.Mutex

	mu       sync.Mutex
	state    State
	degraded bool
}

// New creates a controller in StateInitialized and hooks it to the gate
// so accepted commands update its state.
func New(device Device, env *Env, events *Events, opts Options) *Controller {
	if opts.ControlPeriod <= 0 {
		opts.ControlPeriod = DefaultControlPeriod
	}
	if env.Logger == nil {
		env.Logger = nopLogger{}
	}
	c := &Controller{
		device:  device,
		stages:  device.Stages(),
		env:     env,
		events:  events,
		period:  opts.ControlPeriod,
		logger:  env.Logger,
		metrics: opts.Metrics,
		state:   StateInitialized,
	}
	env.Gate.OnChange(c.commandApplied)
	return c
}

// State returns the current device state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StageNames returns the declared stage order.
func (c *Controller) StageNames() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// commandApplied follows accepted commands. A stop reaching a device that
// is stopped or has never run leaves the state alone.
func (c *Controller) commandApplied(armed bool) {
	c.metrics.SetGateArmed(armed)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case armed:
		c.state = StateRun
	case c.state == StateStopped, c.state == StateInitialized:
	default:
		c.state = StateStop
	}
}

// Run executes passes until ctx is cancelled, pausing the control period
// between passes. It always returns nil once ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("control loop started", "stages", c.StageNames(), "period", c.period)
	defer c.logger.Info("control loop stopped")

	for ctx.Err() == nil {
		c.pass(ctx)
		if err := Sleep(ctx, c.period); err != nil {
			break
		}
	}
	return nil
}

// pass runs the declared stages in order while the gate stays armed. A
// disarmed gate turns the rest of the pass into one stop transition.
func (c *Controller) pass(ctx context.Context) {
	if !c.hardwareAvailable() {
		return
	}

	var prior StageResult
	for _, stage := range c.stages {
		if ctx.Err() != nil {
			return
		}
		if !c.env.Gate.Armed() {
			if err := c.Stop(ctx); err != nil {
				c.logger.Error("stop transition failed", "error", err)
			}
			return
		}
		prior = c.runStage(ctx, stage, prior)
	}
}

func (c *Controller) runStage(ctx context.Context, stage Stage, prior StageResult) StageResult {
	name := stage.Name()
	c.events.Emit(name, TextBegin, nil)

	result := stage.Run(ctx, c.env, prior)

	c.events.Emit(name, result.text(), result.Payload)
	c.metrics.StageRun(name)
	c.logger.Debug("stage complete", "stage", name, "result", result.Payload)
	return result
}

// hardwareAvailable logs the transition into the degraded state once.
func (c *Controller) hardwareAvailable() bool {
	ok := c.env.Group.Available()
	c.mu.Lock()
	first := !ok && !c.degraded
	c.degraded = !ok
	c.mu.Unlock()
	if first {
		c.logger.Error("hardware unavailable, control loop idle")
	}
	return ok
}

// Stop performs the fail-safe stop transition. From stopped or
// initialized it does nothing; otherwise it runs the device's Halt,
// publishes a stop event and enters stopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	switch c.State() {
	case StateStopped, StateInitialized:
		return nil
	}
	if !c.env.Group.Available() {
		return ErrHardwareUnavailable
	}

	result := c.device.Halt(ctx, c.env)
	c.setState(StateStopped)
	c.events.Emit(StageStop, result.text(), result.Payload)
	c.logger.Info("device stopped", "text", result.text())
	return nil
}

// EmergencyStop commands every actuator to hold its cached present
// position. No fresh read is made.
//
// If any actuator has no current cached position, nothing is written and
// ErrNoCachedPosition is returned: a partial hold is never attempted. On
// success the gate is disarmed as if a stop had been accepted.
//
// Returns:
//   - error: ErrNotStoppable from initialized or stopped,
//     ErrNoCachedPosition, ErrHardwareUnavailable, or write failures
func (c *Controller) EmergencyStop(ctx context.Context) error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	switch c.State() {
	case StateStopped, StateInitialized:
		return ErrNotStoppable
	}

	group := c.env.Group
	if !group.Available() {
		c.metrics.EmergencyStop("refused")
		c.logger.Error("emergency stop refused: hardware unavailable")
		return ErrHardwareUnavailable
	}

	cache := group.Cache()
	names := group.Names()
	positions := make([]int, 0, len(names))
	for _, name := range names {
		pos, ok := cache.GetInt(name, telemetry.FieldPresentPosition)
		if !ok {
			c.metrics.EmergencyStop("refused")
			c.logger.Error("emergency stop refused: no cached position", "actuator", name)
			return fmt.Errorf("%w: %s", ErrNoCachedPosition, name)
		}
		positions = append(positions, pos)
	}

	c.logger.Warn("emergency stop", "positions", positions)
	results, err := group.WriteAll(ctx, hardware.RegGoalPosition, positions)
	if err != nil {
		return fmt.Errorf("emergency stop: %w", err)
	}
	if err := results.Err(); err != nil {
		c.metrics.EmergencyStop("partial")
		c.logger.Error("emergency stop write failed", "error", err)
		return fmt.Errorf("emergency stop: %w", err)
	}

	// Stopped only while the gate is still disarmed; a run accepted in the
	// meantime keeps the state at run.
	c.env.Gate.Activate("stop") //nolint:errcheck // known command
	c.mu.Lock()
	if !c.env.Gate.Armed() {
		c.state = StateStopped
	}
	c.mu.Unlock()
	c.metrics.EmergencyStop("held")
	return nil
}
