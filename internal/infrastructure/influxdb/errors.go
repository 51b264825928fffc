package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when the sink is turned off.
	ErrDisabled = errors.New("influxdb: sink disabled")

	// ErrUnreachable is returned by Connect when the server does not
	// answer a ping or reports itself unhealthy.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by Ping after Close, or on a zero Client.
	ErrClosed = errors.New("influxdb: sink closed")
)
