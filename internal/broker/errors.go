package broker

import "errors"

// Domain-specific errors for relay operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned by Start when the broker configuration is
	// unusable (unknown role, missing address, empty separator).
	ErrInvalidConfig = errors.New("broker: invalid configuration")

	// ErrAlreadyRunning is returned by Start when the service is not stopped.
	ErrAlreadyRunning = errors.New("broker: already running")

	// ErrNotRunning is returned by Publish when the sockets are not open.
	ErrNotRunning = errors.New("broker: not running")

	// ErrTransport wraps socket-level bind, connect, send and receive failures.
	ErrTransport = errors.New("broker: transport failure")

	// ErrLoopPanic ends the receive loop when a decoder or bus handler panics.
	ErrLoopPanic = errors.New("broker: receive loop panicked")

	// ErrSerialization is returned when a payload cannot be converted to or
	// from its JSON wire form.
	ErrSerialization = errors.New("broker: serialization failed")

	// ErrUnknownType is returned when an inbound type discriminator has no
	// registered decoder.
	ErrUnknownType = errors.New("broker: unknown message type")

	// ErrInvalidTopic is returned when an outbound topic contains the separator.
	ErrInvalidTopic = errors.New("broker: topic cannot contain the message separator")
)
