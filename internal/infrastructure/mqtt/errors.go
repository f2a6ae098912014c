package mqtt

import "errors"

// Errors returned by the relay's MQTT side channel.
var (
	// ErrNotConnected is returned while the client has no broker session.
	// Paho reconnects in the background; callers may retry later.
	ErrNotConnected = errors.New("mqtt: no broker session")

	// ErrConnectionFailed is returned by Connect when the first session
	// cannot be established within the connect timeout.
	ErrConnectionFailed = errors.New("mqtt: could not reach broker")

	// ErrMirrorFailed is returned when a relay delivery could not be
	// mirrored to its inbound topic.
	ErrMirrorFailed = errors.New("mqtt: mirror to inbound topic failed")

	// ErrOutboundFailed is returned when the outbound subscription could
	// not be added or removed.
	ErrOutboundFailed = errors.New("mqtt: outbound subscription failed")

	// ErrInvalidKind is returned for an inbound kind that is not a single
	// topic level.
	ErrInvalidKind = errors.New("mqtt: inbound kind must be one topic level")

	// ErrPayloadTooLarge is returned for payloads above maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload exceeds 1 MiB")
)
