package transaction

import (
	"encoding/binary"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"github.com/backkem/lwm2m/pkg/coap"
)

// Peer is the destination of a transaction, typically a server record of the
// session. Send writes one datagram through the secure channel when it is
// enabled and through the plain transport otherwise.
type Peer interface {
	Send(data []byte) error
}

// Callback is invoked exactly once when a transaction is retired. response is
// nil when the exchange ended without a response (retry budget exhausted,
// separate response never arrived, missing peer or encode failure).
type Callback func(t *Transaction, response *coap.Message)

// Transaction is one reliable outbound CoAP exchange.
//
// A transaction is owned by its Manager's worker and is not safe for
// concurrent use. Callers may adjust Message() before the first Send; after
// that the encoded bytes are cached and retransmissions are byte-identical.
type Transaction struct {
	// Peer is where the message is sent. A nil Peer retires the transaction
	// on its next send.
	Peer Peer

	// Callback is invoked once on retirement.
	Callback Callback

	// ResponseTimeout overrides how long to wait for a separate response
	// after an empty ACK. Zero waits ACKTimeout times the attempts made.
	ResponseTimeout time.Duration

	// Context carries caller data through to the callback.
	Context any

	msg    *coap.Message
	buffer []byte

	// sendCount is the number of transmissions made so far.
	sendCount int

	// retransCounter drives the backoff schedule: 0 before the first send,
	// then one more than sendCount.
	retransCounter int

	deadline    time.Time
	ackReceived bool
	reset       bool
	retired     bool
}

// MessageID returns the CoAP message id.
func (t *Transaction) MessageID() uint16 { return t.msg.MessageID }

// Type returns the CoAP message type.
func (t *Transaction) Type() coap.Type { return t.msg.Type }

// Code returns the method or response code of the tracked message.
func (t *Transaction) Code() codes.Code { return t.msg.Code }

// Token returns the token of the tracked message.
func (t *Transaction) Token() []byte { return t.msg.Token }

// Message returns the tracked message. Changes after the first send are
// not transmitted.
func (t *Transaction) Message() *coap.Message { return t.msg }

// Deadline returns the next retransmission deadline.
func (t *Transaction) Deadline() time.Time { return t.deadline }

// SendCount returns the number of transmissions made.
func (t *Transaction) SendCount() int { return t.sendCount }

// Retransmits returns the number of retransmissions made after the first send.
func (t *Transaction) Retransmits() int {
	if t.sendCount == 0 {
		return 0
	}
	return t.sendCount - 1
}

// AckReceived reports whether the peer acknowledged the message.
func (t *Transaction) AckReceived() bool { return t.ackReceived }

// WasReset reports whether the peer answered with RST.
func (t *Transaction) WasReset() bool { return t.reset }

// Retired reports whether the transaction has been removed.
func (t *Transaction) Retired() bool { return t.retired }

// GenerateToken derives a token of length n (at most 8) from the message id
// and the current time, so tokens differ across restarts that reuse ids.
func GenerateToken(mid uint16, now time.Time, n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > coap.MaxTokenLength {
		n = coap.MaxTokenLength
	}
	var raw [8]byte
	binary.BigEndian.PutUint16(raw[0:2], mid)
	binary.BigEndian.PutUint32(raw[2:6], uint32(now.Unix()))
	binary.BigEndian.PutUint16(raw[6:8], uint16(now.Nanosecond()>>10))
	token := make([]byte, n)
	copy(token, raw[:n])
	return token
}
