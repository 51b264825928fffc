package controller

import (
	"context"
	"time"

	"github.com/nerrad567/minifc/internal/gate"
	"github.com/nerrad567/minifc/internal/hardware"
)

// Logger is the logging interface used by the controller package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Publisher sends fire-and-forget messages. *mqtt.Client satisfies it.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
}

// Env is the per-device context handed to every stage. It is built once
// at bring-up and shared by reference.
type Env struct {
	DeviceID string
	Group    *hardware.Group
	Gate     *gate.Gate
	Logger   Logger

	// Pause waits between inner iterations of a stage. It returns early
	// with the context's error on cancellation. Defaults to Sleep.
	Pause func(ctx context.Context, d time.Duration) error
}

// Wait pauses for d using env.Pause.
func (e *Env) Wait(ctx context.Context, d time.Duration) error {
	if e.Pause != nil {
		return e.Pause(ctx, d)
	}
	return Sleep(ctx, d)
}

// Running reports whether a stage's inner loop may continue.
func (e *Env) Running(ctx context.Context) bool {
	return ctx.Err() == nil && e.Gate.Armed()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
