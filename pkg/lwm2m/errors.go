package lwm2m

import "errors"

// Package-level errors.
var (
	// ErrPending is returned by Deinit while registration is still enabled.
	// Call Unregister and wait for EventUnregisterDone first.
	ErrPending = errors.New("lwm2m: registration still active")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current lifecycle state.
	ErrInvalidState = errors.New("lwm2m: invalid state for operation")

	// ErrInvalidLifetime is returned when a registration lifetime is out of range.
	ErrInvalidLifetime = errors.New("lwm2m: lifetime out of range")

	// ErrMissingHandler is returned when an object has no handler.
	ErrMissingHandler = errors.New("lwm2m: object handler is required")

	// ErrMissingCallback is returned by Register when no event callback is set.
	ErrMissingCallback = errors.New("lwm2m: event callback is required")

	// ErrObjectExists is returned when adding an object id twice.
	ErrObjectExists = errors.New("lwm2m: object already exists")

	// ErrObjectNotFound is returned when an object id is not registered.
	ErrObjectNotFound = errors.New("lwm2m: object not found")

	// ErrInvalidResult is returned when a result is not allowed for the call.
	ErrInvalidResult = errors.New("lwm2m: invalid result")

	// ErrUnknownRequest is returned when responding to a message id that has
	// no pending request.
	ErrUnknownRequest = errors.New("lwm2m: no pending request for message id")

	// ErrUnknownObservation is returned when notifying an unknown observe id.
	ErrUnknownObservation = errors.New("lwm2m: no such observation")

	// ErrClosed is returned after Deinit.
	ErrClosed = errors.New("lwm2m: session closed")

	// ErrServerRequired is returned when neither a server nor a bootstrap
	// server is configured.
	ErrServerRequired = errors.New("lwm2m: server host is required")

	// ErrBootstrapServerRequired is returned when bootstrap is enabled
	// without a bootstrap server host.
	ErrBootstrapServerRequired = errors.New("lwm2m: bootstrap server host is required")

	// ErrCredentialsRequired is returned when DTLS is enabled without a PSK.
	ErrCredentialsRequired = errors.New("lwm2m: PSK is required for DTLS")

	// ErrInvalidPort is returned for a port outside 1-65535.
	ErrInvalidPort = errors.New("lwm2m: invalid port")

	// ErrInvalidUserData is returned when the user-data string is malformed.
	ErrInvalidUserData = errors.New("lwm2m: malformed user data")

	// ErrInvalidServerURI is returned when a bootstrap write carries an
	// unusable server URI.
	ErrInvalidServerURI = errors.New("lwm2m: invalid server URI")
)
