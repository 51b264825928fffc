package controller

import "errors"

// Domain-specific errors for the controller package.
var (
	// ErrNoCachedPosition is returned by EmergencyStop when an actuator has
	// no current present_position in the cache. Nothing is written.
	ErrNoCachedPosition = errors.New("controller: no cached position")

	// ErrHardwareUnavailable is returned when the hardware group has
	// entered its degraded state.
	ErrHardwareUnavailable = errors.New("controller: hardware unavailable")

	// ErrNotStoppable is returned by EmergencyStop outside run and stop.
	ErrNotStoppable = errors.New("controller: device is not running")
)
