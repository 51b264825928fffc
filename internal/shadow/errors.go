package shadow

import "errors"

// Domain-specific errors for shadow operations.
var (
	// ErrRequestTimeout is returned by Fetch when no reply arrives in time.
	ErrRequestTimeout = errors.New("shadow: request timed out")

	// ErrRejected is returned by Fetch when the service rejects the request.
	ErrRejected = errors.New("shadow: request rejected")

	// ErrInvalidPayload is returned for update payloads that are not a JSON
	// object.
	ErrInvalidPayload = errors.New("shadow: payload must be a JSON object")

	// ErrNoTransport is returned when a Handler or Service has no transport.
	ErrNoTransport = errors.New("shadow: transport is nil")
)
