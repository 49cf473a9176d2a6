package uri

import "errors"

var (
	// ErrInvalidURI is returned for a malformed path or an inconsistent triplet.
	ErrInvalidURI = errors.New("uri: invalid uri")

	// ErrEmptySegment is returned when a required path segment is empty.
	ErrEmptySegment = errors.New("uri: empty segment")

	// ErrNotDecimal is returned when a segment contains a non-digit.
	ErrNotDecimal = errors.New("uri: segment is not decimal")

	// ErrIDOutOfRange is returned when an identifier exceeds MaxID.
	ErrIDOutOfRange = errors.New("uri: identifier out of range")

	// ErrTooManySegments is returned when a path has segments past the resource.
	ErrTooManySegments = errors.New("uri: too many segments")

	// ErrAltPathMismatch is returned when a path does not start with the
	// configured alternate path.
	ErrAltPathMismatch = errors.New("uri: alternate path mismatch")
)
