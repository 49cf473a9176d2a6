package lwm2m

import (
	"github.com/plgd-dev/go-coap/v3/message/codes"

	"github.com/backkem/lwm2m/pkg/coap"
)

// Result is the outcome of a resource operation.
type Result int

const (
	// ResultDeferred means the handler will answer later through
	// Session.Response (or DiscoverResponse).
	ResultDeferred Result = iota

	// ResultContinue marks a partial answer; more parts for the same
	// message id follow and are concatenated.
	ResultContinue

	ResultContent
	ResultChanged
	ResultBadRequest
	ResultUnauthorized
	ResultNotFound
	ResultMethodNotAllowed
	ResultNotAcceptable
)

// String returns a human-readable name for the result.
func (r Result) String() string {
	switch r {
	case ResultDeferred:
		return "Deferred"
	case ResultContinue:
		return "Continue"
	case ResultContent:
		return "Content"
	case ResultChanged:
		return "Changed"
	case ResultBadRequest:
		return "BadRequest"
	case ResultUnauthorized:
		return "Unauthorized"
	case ResultNotFound:
		return "NotFound"
	case ResultMethodNotAllowed:
		return "MethodNotAllowed"
	case ResultNotAcceptable:
		return "NotAcceptable"
	default:
		return "Unknown"
	}
}

// Code maps the result to a CoAP response code. Results without a direct
// mapping answer 4.06 Not Acceptable.
func (r Result) Code() codes.Code {
	switch r {
	case ResultContent:
		return codes.Content
	case ResultChanged:
		return codes.Changed
	case ResultBadRequest:
		return codes.BadRequest
	case ResultUnauthorized:
		return codes.Unauthorized
	case ResultNotFound:
		return codes.NotFound
	case ResultMethodNotAllowed:
		return codes.MethodNotAllowed
	default:
		return codes.NotAcceptable
	}
}

func (r Result) validResponse() bool {
	return r >= ResultContinue && r <= ResultNotAcceptable
}

func (r Result) validNotify() bool {
	return r == ResultContent || r == ResultContinue
}

// Value is a resource payload together with its content format.
type Value struct {
	Format  coap.MediaType
	Payload []byte
}

// TextValue returns a text/plain value.
func TextValue(s string) Value {
	return Value{Format: coap.TextPlain, Payload: []byte(s)}
}

// OpaqueValue returns an application/octet-stream value.
func OpaqueValue(b []byte) Value {
	return Value{Format: coap.AppOctets, Payload: b}
}
