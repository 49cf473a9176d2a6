package block

import "errors"

var (
	// ErrIncomplete is returned for a block that does not continue the
	// accumulated body (first block missing, gap or seek backwards).
	// Answered with 4.08 Request Entity Incomplete.
	ErrIncomplete = errors.New("block: request entity incomplete")

	// ErrEntityTooLarge is returned when the body would reach the size limit.
	// Answered with 4.13 Request Entity Too Large.
	ErrEntityTooLarge = errors.New("block: request entity too large")
)
