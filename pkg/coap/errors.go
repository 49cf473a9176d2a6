package coap

import "errors"

var (
	// ErrMalformed is returned when a datagram is not a valid CoAP message.
	ErrMalformed = errors.New("coap: malformed message")

	// ErrTokenTooLong is returned when a token exceeds 8 bytes.
	ErrTokenTooLong = errors.New("coap: token too long")

	// ErrInvalidBlock is returned for a block size or option value outside RFC 7959.
	ErrInvalidBlock = errors.New("coap: invalid block option")
)
