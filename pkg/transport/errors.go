package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed Conn.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected is returned when writing before Connect.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrInvalidAddress is returned for an empty host or a port out of range.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrResolve is returned when the server address cannot be resolved.
	ErrResolve = errors.New("transport: cannot resolve address")

	// ErrMessageTooLarge is returned when a datagram exceeds MaxDatagramSize.
	ErrMessageTooLarge = errors.New("transport: message too large")
)
