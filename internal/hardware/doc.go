// Package hardware exposes a device's actuators as one ordered capability
// group.
//
// A Group owns the transport (a Bus) and the telemetry cache. Both device
// loops share one Group for the life of the process:
//
//	bus := sim.NewBus(...)
//	group, err := hardware.NewGroup(bus, actuators, cache, hardware.Options{})
//	defer group.Close()
//
//	reading, err := group.Read(ctx, "base")       // refreshes the cache
//	results := group.WriteAll(ctx, hardware.RegGoalPosition, positions)
//
// Every transport call is bounded by the group's operation timeout. A
// timeout or ordinary I/O error is returned to the caller and the group
// stays usable. An error wrapping ErrTransportLost releases the transport
// and moves the group into the unavailable state; from then on every
// operation returns ErrUnavailable.
package hardware
