// Package gate turns remote run/stop commands into the local run signal
// polled by a device's stage loop.
package gate

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Command is a recognised remote command token.
type Command string

// Recognised commands.
const (
	Run  Command = "run"
	Stop Command = "stop"
)

// ErrUnknownCommand is returned by Activate for any other token.
var ErrUnknownCommand = errors.New("gate: unknown command")

// Parse converts a raw token to a Command.
func Parse(token string) (Command, error) {
	switch Command(token) {
	case Run, Stop:
		return Command(token), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, token)
	}
}

// Logger is the optional logging interface used by the gate.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Gate is the single run/stop signal of a device.
//
// The newest accepted command always wins; nothing is queued. The control
// loop polls Armed once per cycle and never blocks on the gate.
type Gate struct {
	armed atomic.Bool

	mu          sync.Mutex
	lastApplied Command
	lastCommand Command
	appliedAt   time.Time
	onChange    func(armed bool)

	logger Logger
}

// New returns a disarmed gate. logger may be nil.
func New(logger Logger) *Gate {
	return &Gate{logger: logger}
}

// OnChange registers a hook called after every accepted command.
func (g *Gate) OnChange(fn func(armed bool)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// Activate applies a remote command token. run arms the gate, stop
// disarms it; any other token is rejected, logged, and leaves the gate as
// it was.
func (g *Gate) Activate(token string) error {
	cmd, err := Parse(token)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("gate: unknown command ignored", "command", token)
		}
		return err
	}

	g.mu.Lock()
	g.lastCommand = g.lastApplied
	g.lastApplied = cmd
	g.appliedAt = time.Now()
	g.armed.Store(cmd == Run)
	prev, hook := g.lastCommand, g.onChange
	g.mu.Unlock()

	if g.logger != nil {
		g.logger.Info("gate: command applied", "command", string(cmd), "previous", string(prev))
	}
	if hook != nil {
		hook(cmd == Run)
	}
	return nil
}

// Armed reports whether the most recent accepted command was run.
func (g *Gate) Armed() bool {
	return g.armed.Load()
}

// LastApplied returns the most recent accepted command, or "" if none.
func (g *Gate) LastApplied() Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastApplied
}

// LastCommand returns the command accepted before LastApplied, used to
// detect transitions.
func (g *Gate) LastCommand() Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCommand
}

// AppliedAt returns when the last command was accepted.
func (g *Gate) AppliedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.appliedAt
}

// Transitioned reports whether the last accepted command changed the
// gate's value.
func (g *Gate) Transitioned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastApplied != g.lastCommand
}
