// Package sim provides simulated actuators and a simulated camera so a
// device can run without physical hardware.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/minifc/internal/hardware"
	"github.com/nerrad567/minifc/internal/telemetry"
)

// servo is the simulated register file of one actuator.
type servo struct {
	position    int
	goal        int
	speed       int
	load        int
	temperature int
	torqueLimit int
	cwLimit     int
	ccwLimit    int
	torque      int
}

// Write records one register write seen by the bus.
type Write struct {
	ServoID  int
	Register string
	Value    int
}

// Bus is an in-memory hardware.Bus. Positional moves complete instantly.
//
// Faults can be injected per servo with FailNext, and the whole link can
// be dropped with Lose.
type Bus struct {
	latency time.Duration

	mu       sync.Mutex
	servos   map[int]*servo
	writes   []Write
	failNext map[int]error
	lost     bool
	closed   bool
}

// NewBus creates a bus with one simulated servo per id, centred at 512.
func NewBus(servoIDs ...int) *Bus {
	b := &Bus{
		servos:   make(map[int]*servo, len(servoIDs)),
		failNext: make(map[int]error),
	}
	for _, id := range servoIDs {
		b.servos[id] = &servo{
			position:    512,
			goal:        512,
			temperature: 32,
			torqueLimit: 1023,
			ccwLimit:    hardware.JointCCWLimit,
			torque:      1,
		}
	}
	return b
}

// WithLatency delays every operation by d, honouring the context.
func (b *Bus) WithLatency(d time.Duration) *Bus {
	b.latency = d
	return b
}

// Ping implements hardware.Bus.
func (b *Bus) Ping(ctx context.Context, servoID int) error {
	_, err := b.begin(ctx, servoID)
	if err != nil {
		return err
	}
	b.mu.Unlock()
	return nil
}

// ReadRegister implements hardware.Bus.
func (b *Bus) ReadRegister(ctx context.Context, servoID int, register string) (any, error) {
	s, err := b.begin(ctx, servoID)
	if err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	switch register {
	case telemetry.FieldPresentPosition:
		return s.position, nil
	case telemetry.FieldGoalPosition:
		return s.goal, nil
	case telemetry.FieldPresentSpeed:
		return s.speed, nil
	case telemetry.FieldPresentLoad:
		return s.load, nil
	case telemetry.FieldPresentTemperature:
		return s.temperature, nil
	case telemetry.FieldTorqueLimit:
		return s.torqueLimit, nil
	case telemetry.FieldMoving:
		return s.wheel() && s.speed&1023 != 0, nil
	case hardware.RegCWLimit:
		return s.cwLimit, nil
	case hardware.RegCCWLimit:
		return s.ccwLimit, nil
	default:
		return nil, fmt.Errorf("sim: servo %d: unknown register %q", servoID, register)
	}
}

// WriteRegister implements hardware.Bus.
func (b *Bus) WriteRegister(ctx context.Context, servoID int, register string, value int) error {
	s, err := b.begin(ctx, servoID)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	switch register {
	case hardware.RegGoalPosition:
		s.goal = value
		if !s.wheel() {
			s.position = value
		}
	case hardware.RegMovingSpeed:
		s.speed = value
		s.load = value & 1023 / 8
	case hardware.RegCWLimit:
		s.cwLimit = value
	case hardware.RegCCWLimit:
		s.ccwLimit = value
	case hardware.RegTorqueEnable:
		s.torque = value
	default:
		return fmt.Errorf("sim: servo %d: unknown register %q", servoID, register)
	}
	b.writes = append(b.writes, Write{ServoID: servoID, Register: register, Value: value})
	return nil
}

// Close implements hardware.Bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// FailNext makes the next operation on servoID return err.
func (b *Bus) FailNext(servoID int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext[servoID] = err
}

// Lose drops the link: every later operation fails with
// hardware.ErrTransportLost.
func (b *Bus) Lose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lost = true
}

// Writes returns a copy of every successful write so far.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Write(nil), b.writes...)
}

// ResetWrites clears the write log.
func (b *Bus) ResetWrites() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = nil
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// SetPosition moves a servo without recording a write.
func (b *Bus) SetPosition(servoID, position int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.servos[servoID]; ok {
		s.position = position
	}
}

// begin waits out the latency and returns the servo with b.mu held.
// On error the lock is not held.
func (b *Bus) begin(ctx context.Context, servoID int) (*servo, error) {
	if b.latency > 0 {
		timer := time.NewTimer(b.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.lost || b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("sim: servo %d: %w", servoID, hardware.ErrTransportLost)
	}
	if err, ok := b.failNext[servoID]; ok {
		delete(b.failNext, servoID)
		b.mu.Unlock()
		return nil, err
	}
	s, ok := b.servos[servoID]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("sim: no servo with id %d", servoID)
	}
	return s, nil
}

func (s *servo) wheel() bool {
	return s.cwLimit == 0 && s.ccwLimit == 0
}
