package hardware

import "errors"

// Sentinel errors for hardware operations.
var (
	// ErrUnavailable is returned by every operation once the transport
	// has been lost or the group closed.
	ErrUnavailable = errors.New("hardware: group unavailable")

	// ErrTransportLost is returned (wrapped) by a Bus when the link to the
	// actuators cannot be recovered.
	ErrTransportLost = errors.New("hardware: transport lost")

	// ErrUnknownActuator is returned for a name not in the group.
	ErrUnknownActuator = errors.New("hardware: unknown actuator")

	// ErrValueCount is returned by WriteAll when the number of values does
	// not match the number of actuators.
	ErrValueCount = errors.New("hardware: value count does not match group size")

	// ErrNoActuators is returned by NewGroup for an empty actuator list.
	ErrNoActuators = errors.New("hardware: group has no actuators")
)
