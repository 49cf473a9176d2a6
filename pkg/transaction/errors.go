package transaction

import "errors"

// Errors returned by the transaction package.
var (
	// ErrNotReliable is returned when asked to track an ACK or RST message.
	ErrNotReliable = errors.New("transaction: acks and resets are not tracked")

	// ErrNonConfirmableResponse is returned for a NON response; it cannot be
	// correlated with anything later.
	ErrNonConfirmableResponse = errors.New("transaction: non-confirmable response is not tracked")

	// ErrMissingToken is returned for a NON request without a token.
	ErrMissingToken = errors.New("transaction: non-confirmable request requires a token")

	// ErrTokenTooLong is returned for tokens longer than 8 bytes.
	ErrTokenTooLong = errors.New("transaction: token too long")

	// ErrNilMessage is returned when no message is supplied.
	ErrNilMessage = errors.New("transaction: nil message")
)
