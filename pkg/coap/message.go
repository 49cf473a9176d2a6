// Package coap provides the CoAP message model used by the LWM2M engine.
//
// Messages are plain values: the transaction layer caches the serialized
// bytes of an outbound message so that retransmissions are byte-identical,
// and inbound datagrams are decoded once into a Message before matching and
// dispatch. Wire encoding is delegated to go-coap's UDP coder (RFC 7252),
// and the Block1 option follows RFC 7959.
package coap

import (
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Type is the CoAP message type.
type Type = message.Type

// Message types (RFC 7252 Section 3).
const (
	Confirmable     = message.Confirmable
	NonConfirmable  = message.NonConfirmable
	Acknowledgement = message.Acknowledgement
	Reset           = message.Reset
)

// MediaType is a CoAP Content-Format identifier.
type MediaType = message.MediaType

// Content formats used by the engine.
const (
	TextPlain     MediaType = 0
	AppLinkFormat MediaType = 40
	AppOctets     MediaType = 42
)

// MaxTokenLength is the largest token allowed by RFC 7252.
const MaxTokenLength = 8

// Message is one decoded or to-be-encoded CoAP message.
type Message struct {
	Type      Type
	Code      codes.Code
	MessageID uint16
	Token     []byte

	URIPath      []string
	URIQuery     []string
	LocationPath []string

	ContentFormat *MediaType
	Accept        *MediaType
	Observe       *uint32
	Block1        *Block

	Payload []byte
}

// NewAck returns an empty acknowledgement for mid.
func NewAck(mid uint16) *Message {
	return &Message{Type: Acknowledgement, Code: codes.Empty, MessageID: mid}
}

// NewReset returns a reset message for mid.
func NewReset(mid uint16) *Message {
	return &Message{Type: Reset, Code: codes.Empty, MessageID: mid}
}

// NewPiggybacked returns an acknowledgement of req carrying a response.
func NewPiggybacked(req *Message, code codes.Code) *Message {
	return &Message{
		Type:      Acknowledgement,
		Code:      code,
		MessageID: req.MessageID,
		Token:     cloneBytes(req.Token),
	}
}

// SetContentFormat sets the Content-Format option.
func (m *Message) SetContentFormat(mt MediaType) {
	m.ContentFormat = &mt
}

// SetObserve sets the Observe option.
func (m *Message) SetObserve(seq uint32) {
	m.Observe = &seq
}

// IsRequest reports whether the message carries a method code.
func (m *Message) IsRequest() bool {
	return IsRequest(m.Code)
}

// IsEmpty reports whether the message is an empty ACK/RST/ping.
func (m *Message) IsEmpty() bool {
	return m.Code == codes.Empty
}

// IsRequest reports whether c is a method code (GET, POST, PUT or DELETE).
func IsRequest(c codes.Code) bool {
	return c >= codes.GET && c <= codes.DELETE
}

// IsResponse reports whether c is a response code.
func IsResponse(c codes.Code) bool {
	return c > codes.DELETE
}

// IsSuccess reports whether c is in the 2.xx class.
func IsSuccess(c codes.Code) bool {
	return c>>5 == 2
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	c.Token = cloneBytes(m.Token)
	c.URIPath = append([]string(nil), m.URIPath...)
	c.URIQuery = append([]string(nil), m.URIQuery...)
	c.LocationPath = append([]string(nil), m.LocationPath...)
	c.Payload = cloneBytes(m.Payload)
	if m.ContentFormat != nil {
		v := *m.ContentFormat
		c.ContentFormat = &v
	}
	if m.Accept != nil {
		v := *m.Accept
		c.Accept = &v
	}
	if m.Observe != nil {
		v := *m.Observe
		c.Observe = &v
	}
	if m.Block1 != nil {
		v := *m.Block1
		c.Block1 = &v
	}
	return &c
}
