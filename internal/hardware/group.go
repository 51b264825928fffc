package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/minifc/internal/telemetry"
)

// DefaultOpTimeout bounds a single register operation.
const DefaultOpTimeout = 500 * time.Millisecond

// Logger is the optional logging interface used by the group.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Actuator names one member of the group.
type Actuator struct {
	Name    string
	ServoID int
}

// Options tunes a Group.
type Options struct {
	// OpTimeout bounds each transport call. Zero selects DefaultOpTimeout.
	OpTimeout time.Duration

	// Logger receives transport loss reports. May be nil.
	Logger Logger
}

// Reading is the last observed state of one actuator. A nil field means
// no current value: never read, or older than the cache TTL.
type Reading struct {
	Name               string
	ServoID            int
	PresentSpeed       *int
	PresentPosition    *int
	PresentLoad        *int
	GoalPosition       *int
	Moving             *bool
	PresentTemperature *int
	TorqueLimit        *int
	ObservedAt         time.Time
}

// Fields returns the reading keyed by telemetry field name, with nil for
// absent values.
func (r Reading) Fields() map[string]any {
	fields := make(map[string]any, len(ReadFields))
	set := func(name string, p *int) {
		if p == nil {
			fields[name] = nil
			return
		}
		fields[name] = *p
	}
	set(telemetry.FieldPresentSpeed, r.PresentSpeed)
	set(telemetry.FieldPresentPosition, r.PresentPosition)
	set(telemetry.FieldPresentLoad, r.PresentLoad)
	set(telemetry.FieldGoalPosition, r.GoalPosition)
	set(telemetry.FieldPresentTemperature, r.PresentTemperature)
	set(telemetry.FieldTorqueLimit, r.TorqueLimit)
	if r.Moving == nil {
		fields[telemetry.FieldMoving] = nil
	} else {
		fields[telemetry.FieldMoving] = *r.Moving
	}
	return fields
}

// WriteResult is the outcome of one actuator's write within WriteAll.
type WriteResult struct {
	Name string
	Err  error
}

// WriteResults reports every actuator's outcome of a group-wide write.
type WriteResults []WriteResult

// Err joins the per-actuator failures, or returns nil if all succeeded.
func (r WriteResults) Err() error {
	var errs []error
	for _, res := range r {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Group is an ordered set of actuators sharing one transport and one
// telemetry cache.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Register operations from the
//     two device loops may interleave; no cross-actuator atomicity is given.
type Group struct {
	bus       Bus
	actuators []Actuator
	index     map[string]int
	cache     *telemetry.Cache
	opTimeout time.Duration
	logger    Logger

	unavailable atomic.Bool
	releaseOnce sync.Once
	releaseErr  error
}

// NewGroup creates a group over bus. The actuator order is the order used
// by WriteAll and by telemetry.
//
// Parameters:
//   - bus: Connected transport; the group takes ownership and closes it
//   - actuators: Group members, unique by name
//   - cache: Telemetry cache refreshed by Read
//   - opts: Timeout and logger
//
// Returns:
//   - *Group: Ready group
//   - error: ErrNoActuators, or a duplicate-name error
func NewGroup(bus Bus, actuators []Actuator, cache *telemetry.Cache, opts Options) (*Group, error) {
	if len(actuators) == 0 {
		return nil, ErrNoActuators
	}
	if cache == nil {
		cache = telemetry.NewCache(0, 0)
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}

	g := &Group{
		bus:       bus,
		actuators: append([]Actuator(nil), actuators...),
		index:     make(map[string]int, len(actuators)),
		cache:     cache,
		opTimeout: opts.OpTimeout,
		logger:    opts.Logger,
	}
	for i, a := range actuators {
		if _, dup := g.index[a.Name]; dup {
			return nil, fmt.Errorf("hardware: duplicate actuator %q", a.Name)
		}
		g.index[a.Name] = i
	}
	return g, nil
}

// Actuators returns the members in group order.
func (g *Group) Actuators() []Actuator {
	return append([]Actuator(nil), g.actuators...)
}

// Names returns the member names in group order.
func (g *Group) Names() []string {
	names := make([]string, len(g.actuators))
	for i, a := range g.actuators {
		names[i] = a.Name
	}
	return names
}

// Cache returns the group's telemetry cache.
func (g *Group) Cache() *telemetry.Cache {
	return g.cache
}

// Available reports whether the transport is still usable.
func (g *Group) Available() bool {
	return !g.unavailable.Load()
}

// Ping checks every actuator answers. Used at bring-up; a failure there is
// fatal to the device.
func (g *Group) Ping(ctx context.Context) error {
	for _, a := range g.actuators {
		err := g.do(ctx, func(opCtx context.Context) error {
			return g.bus.Ping(opCtx, a.ServoID)
		})
		if err != nil {
			return fmt.Errorf("ping %s (id %d): %w", a.Name, a.ServoID, err)
		}
	}
	return nil
}

// Read refreshes every telemetry field of one actuator from the transport
// into the cache and returns the resulting reading.
//
// A failed field read stops the refresh and returns the error; fields read
// before it are cached.
func (g *Group) Read(ctx context.Context, name string) (Reading, error) {
	a, err := g.lookup(name)
	if err != nil {
		return Reading{}, err
	}

	for _, field := range ReadFields {
		var value any
		err := g.do(ctx, func(opCtx context.Context) error {
			var rerr error
			value, rerr = g.bus.ReadRegister(opCtx, a.ServoID, field)
			return rerr
		})
		if err != nil {
			return g.Cached(name), fmt.Errorf("read %s.%s: %w", name, field, err)
		}
		g.cache.Put(name, field, value)
	}
	return g.Cached(name), nil
}

// Cached builds a reading from the cache alone, without touching the
// transport. Expired fields are nil.
func (g *Group) Cached(name string) Reading {
	r := Reading{Name: name, ObservedAt: time.Now()}
	if i, ok := g.index[name]; ok {
		r.ServoID = g.actuators[i].ServoID
	}
	getInt := func(field string) *int {
		if v, ok := g.cache.GetInt(name, field); ok {
			return &v
		}
		return nil
	}
	r.PresentSpeed = getInt(telemetry.FieldPresentSpeed)
	r.PresentPosition = getInt(telemetry.FieldPresentPosition)
	r.PresentLoad = getInt(telemetry.FieldPresentLoad)
	r.GoalPosition = getInt(telemetry.FieldGoalPosition)
	r.PresentTemperature = getInt(telemetry.FieldPresentTemperature)
	r.TorqueLimit = getInt(telemetry.FieldTorqueLimit)
	if v, ok := g.cache.Get(name, telemetry.FieldMoving); ok {
		if b, isBool := v.(bool); isBool {
			r.Moving = &b
		}
	}
	return r
}

// Write sets one register of one actuator.
func (g *Group) Write(ctx context.Context, name, register string, value int) error {
	a, err := g.lookup(name)
	if err != nil {
		return err
	}
	err = g.do(ctx, func(opCtx context.Context) error {
		return g.bus.WriteRegister(opCtx, a.ServoID, register, value)
	})
	if err != nil {
		return fmt.Errorf("write %s.%s: %w", name, register, err)
	}
	return nil
}

// WriteAll writes values[i] to register of the i-th actuator, in group
// order. A failure on one actuator does not stop the others; inspect the
// per-actuator results for strictness.
func (g *Group) WriteAll(ctx context.Context, register string, values []int) (WriteResults, error) {
	if len(values) != len(g.actuators) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrValueCount, len(values), len(g.actuators))
	}
	results := make(WriteResults, len(g.actuators))
	for i, a := range g.actuators {
		results[i] = WriteResult{Name: a.Name, Err: g.Write(ctx, a.Name, register, values[i])}
	}
	return results, nil
}

// WheelMode switches every actuator between continuous rotation (on) and
// positional joint mode (off).
func (g *Group) WheelMode(ctx context.Context, on bool) error {
	ccw := JointCCWLimit
	if on {
		ccw = 0
	}
	var results WriteResults
	for _, a := range g.actuators {
		err := g.Write(ctx, a.Name, RegCWLimit, 0)
		if err == nil {
			err = g.Write(ctx, a.Name, RegCCWLimit, ccw)
		}
		results = append(results, WriteResult{Name: a.Name, Err: err})
	}
	return results.Err()
}

// WheelSpeed sets the rotation speed of every actuator in wheel mode.
// cw selects clockwise rotation.
func (g *Group) WheelSpeed(ctx context.Context, speed int, cw bool) error {
	if speed < 0 {
		speed = 0
	}
	if speed > maxWheelSpeed {
		speed = maxWheelSpeed
	}
	if cw {
		speed |= wheelCWBit
	}
	values := make([]int, len(g.actuators))
	for i := range values {
		values[i] = speed
	}
	results, err := g.WriteAll(ctx, RegMovingSpeed, values)
	if err != nil {
		return err
	}
	return results.Err()
}

// Close releases the transport. Subsequent operations return ErrUnavailable.
func (g *Group) Close() error {
	g.unavailable.Store(true)
	g.release()
	return g.releaseErr
}

func (g *Group) lookup(name string) (Actuator, error) {
	i, ok := g.index[name]
	if !ok {
		return Actuator{}, fmt.Errorf("%w: %q", ErrUnknownActuator, name)
	}
	return g.actuators[i], nil
}

// do runs one transport call under the operation timeout and handles
// transport loss.
func (g *Group) do(ctx context.Context, op func(context.Context) error) error {
	if !g.Available() {
		return ErrUnavailable
	}

	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	err := op(opCtx)
	if errors.Is(err, ErrTransportLost) {
		if g.unavailable.CompareAndSwap(false, true) {
			if g.logger != nil {
				g.logger.Error("actuator transport lost, group unavailable", "error", err)
			}
			g.release()
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (g *Group) release() {
	g.releaseOnce.Do(func() {
		if g.bus != nil {
			g.releaseErr = g.bus.Close()
		}
	})
}
