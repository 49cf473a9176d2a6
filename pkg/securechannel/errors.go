package securechannel

import "errors"

// Errors returned by the secure channel.
var (
	// ErrMissingIdentity is returned when no PSK identity is configured.
	ErrMissingIdentity = errors.New("securechannel: missing PSK identity")

	// ErrMissingKey is returned when no PSK is configured.
	ErrMissingKey = errors.New("securechannel: missing PSK")

	// ErrNotEstablished is returned when writing before the handshake completes.
	ErrNotEstablished = errors.New("securechannel: handshake not complete")

	// ErrHandshakeTimeout is returned when the handshake outlives its deadline.
	ErrHandshakeTimeout = errors.New("securechannel: handshake timed out")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("securechannel: closed")
)
