// Package belt implements the conveyor belt device.
//
// A belt has a single stage, roll, which switches the group to wheel mode
// and spins it at the configured speed. The direction is set through the
// convey_reverse shadow key and may change while the belt rolls.
package belt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/minifc/internal/controller"
)

// StageRoll is the only belt stage.
const StageRoll = "roll"

// ReverseKey is the shadow key selecting the belt direction.
const ReverseKey = "convey_reverse"

// Direction texts of roll events.
const (
	TextReversed    = "reversed"
	TextNotReversed = "not_reversed"
)

// DefaultSpeed is the wheel speed of a rolling belt.
const DefaultSpeed = 950

// ErrInvalidReverse is returned for convey_reverse values other than a
// bool, 0 or 1.
var ErrInvalidReverse = errors.New("belt: convey_reverse must be a bool, 0 or 1")

// RollResult is the payload of roll and stop events.
type RollResult struct {
	Rolling bool   `json:"rolling"`
	Reason  string `json:"reason,omitempty"`
}

// Belt is a controller.Device for a conveyor driven by wheel-mode servos.
type Belt struct {
	speed int

	mu       sync.Mutex
	rolling  bool
	reversed bool
}

// New creates a belt spinning at speed, or DefaultSpeed when speed <= 0.
func New(speed int) *Belt {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	return &Belt{speed: speed}
}

// Rolling reports whether the belt is spinning.
func (b *Belt) Rolling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rolling
}

// Reversed reports the selected direction.
func (b *Belt) Reversed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reversed
}

// Stages implements controller.Device.
func (b *Belt) Stages() []controller.Stage {
	return []controller.Stage{rollStage{b}}
}

// Halt leaves wheel mode so the belt holds still.
func (b *Belt) Halt(ctx context.Context, env *controller.Env) controller.StageResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := RollResult{}
	if err := env.Group.WheelSpeed(ctx, 0, !b.reversed); err != nil {
		env.Logger.Warn("belt speed reset failed", "error", err)
		result.Reason = err.Error()
	}
	if err := env.Group.WheelMode(ctx, false); err != nil {
		env.Logger.Warn("leaving wheel mode failed", "error", err)
		result.Reason = err.Error()
	}
	b.rolling = false
	return controller.StageResult{Text: direction(b.reversed), Payload: result}
}

// ReverseHandler returns the convey_reverse key handler. A rolling belt
// changes direction at once and announces it with a roll event; a
// stopped belt keeps the direction for its next roll. A value matching
// the current direction changes nothing. The raw value is always
// acknowledged.
func (b *Belt) ReverseHandler(env *controller.Env, events *controller.Events) controller.KeyHandler {
	return func(ctx context.Context, value any) (any, error) {
		reversed, err := parseReverse(value)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		if reversed == b.reversed {
			b.mu.Unlock()
			return value, nil
		}
		b.reversed = reversed
		rolling := b.rolling
		var speedErr error
		if rolling {
			speedErr = env.Group.WheelSpeed(ctx, b.speed, !reversed)
		}
		b.mu.Unlock()

		if speedErr != nil {
			return nil, fmt.Errorf("setting belt direction: %w", speedErr)
		}
		if rolling {
			events.Emit(StageRoll, direction(reversed), RollResult{Rolling: true})
		}
		return value, nil
	}
}

type rollStage struct{ belt *Belt }

func (rollStage) Name() string { return StageRoll }

// Run starts the belt if it is not rolling yet. A rolling belt is left
// alone.
func (s rollStage) Run(ctx context.Context, env *controller.Env, _ controller.StageResult) controller.StageResult {
	b := s.belt
	b.mu.Lock()
	defer b.mu.Unlock()

	text := direction(b.reversed)
	if b.rolling || !env.Gate.Armed() {
		return controller.StageResult{Text: text, Payload: RollResult{Rolling: b.rolling}}
	}

	if err := env.Group.WheelMode(ctx, true); err != nil {
		env.Logger.Warn("entering wheel mode failed", "error", err)
		return controller.StageResult{Text: text, Payload: RollResult{Reason: err.Error()}}
	}
	if err := env.Group.WheelSpeed(ctx, b.speed, !b.reversed); err != nil {
		env.Logger.Warn("setting belt speed failed", "error", err)
		return controller.StageResult{Text: text, Payload: RollResult{Reason: err.Error()}}
	}
	b.rolling = true
	return controller.StageResult{Text: text, Payload: RollResult{Rolling: true}}
}

func direction(reversed bool) string {
	if reversed {
		return TextReversed
	}
	return TextNotReversed
}

func parseReverse(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		switch v {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case int:
		switch v {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: got %v", ErrInvalidReverse, value)
}
