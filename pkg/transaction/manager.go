// Package transaction implements reliable CoAP exchanges for the LWM2M engine.
//
// A Transaction wraps one confirmable (or token-carrying non-confirmable)
// message in a retry envelope. The Manager keeps the pending set ordered by
// message id, retransmits on the RFC 7252 exponential schedule, and matches
// inbound ACK, RST and response messages back to the pending transactions.
//
// The Manager is driven by a single worker: Send, HandleResponse, Step and
// RemoveAll must not be called concurrently.
package transaction

import (
	"bytes"
	"time"

	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap/v3/message/codes"

	"github.com/backkem/lwm2m/pkg/coap"
	"github.com/backkem/lwm2m/pkg/metrics"
	"github.com/backkem/lwm2m/pkg/uri"
)

// RetransmitChecker lets a secure channel run its own retransmission timers
// from the transaction sweep.
type RetransmitChecker interface {
	CheckRetransmit(now time.Time)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Params is the retransmission schedule. Zero fields use RFC defaults.
	Params Params

	// AltPath is prepended to Uri-Path when building messages from a URI.
	AltPath string

	// SecureChannel is serviced at the start of every Step. Optional.
	SecureChannel RetransmitChecker

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Metrics records transaction counters. Optional.
	Metrics *metrics.Metrics

	// LoggerFactory creates the package logger. Optional.
	LoggerFactory logging.LoggerFactory
}

// Manager tracks pending transactions.
type Manager struct {
	config  ManagerConfig
	params  Params
	pending table
	log     logging.LeveledLogger
}

// NewManager creates a transaction manager.
func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		config: config,
		params: config.Params.withDefaults(),
	}
	if m.config.Now == nil {
		m.config.Now = time.Now
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("transaction")
	}
	return m
}

// Params returns the effective retransmission schedule.
func (m *Manager) Params() Params {
	return m.params
}

// SetSecureChannel replaces the retransmit checker serviced by Step.
func (m *Manager) SetSecureChannel(sc RetransmitChecker) {
	m.config.SecureChannel = sc
}

// New builds a transaction for a request addressed by target.
//
// ACK and RST are refused, as are NON responses and NON requests without a
// token. The Uri-Path is AltPath (if any) followed by the target segments.
func (m *Manager) New(typ coap.Type, code codes.Code, target *uri.URI, mid uint16, token []byte) (*Transaction, error) {
	msg := &coap.Message{
		Type:      typ,
		Code:      code,
		MessageID: mid,
		Token:     token,
	}
	if target != nil {
		msg.URIPath = target.Segments(m.config.AltPath)
	} else {
		msg.URIPath = uri.Empty().Segments(m.config.AltPath)
	}
	return m.NewFromMessage(msg)
}

// NewFromMessage wraps a prepared message, applying the same admission
// rules as New.
func (m *Manager) NewFromMessage(msg *coap.Message) (*Transaction, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	switch msg.Type {
	case coap.Acknowledgement, coap.Reset:
		return nil, ErrNotReliable
	case coap.NonConfirmable:
		if coap.IsResponse(msg.Code) {
			return nil, ErrNonConfirmableResponse
		}
		if len(msg.Token) == 0 {
			return nil, ErrMissingToken
		}
	}
	if len(msg.Token) > coap.MaxTokenLength {
		return nil, ErrTokenTooLong
	}
	return &Transaction{msg: msg}, nil
}

// Send transmits t, adding it to the pending set on first use.
// It returns false once the transaction has been retired.
func (m *Manager) Send(t *Transaction) bool {
	return m.send(t, m.config.Now())
}

func (m *Manager) send(t *Transaction, now time.Time) bool {
	if t.retired {
		return false
	}
	if !m.pending.contains(t) {
		m.pending.insert(t)
		m.config.Metrics.SetPending(m.pending.len())
	}

	if t.buffer == nil {
		data, err := t.msg.Marshal()
		if err != nil {
			if m.log != nil {
				m.log.Errorf("transaction %d: encode failed: %v", t.MessageID(), err)
			}
			m.retire(t, nil, metrics.RetireEncode)
			return false
		}
		t.buffer = data
	}

	maxReached := false
	if !t.ackReceived {
		var timeout time.Duration
		if t.retransCounter == 0 {
			t.deadline = now.Add(m.params.ACKTimeout)
			t.retransCounter = 1
		} else {
			timeout = m.params.Backoff(t.retransCounter)
		}

		if t.retransCounter <= m.params.MaxAttempts() {
			if t.Peer == nil {
				if m.log != nil {
					m.log.Warnf("transaction %d: no peer", t.MessageID())
				}
				m.retire(t, nil, metrics.RetireNoServer)
				return false
			}

			if err := t.Peer.Send(t.buffer); err != nil && m.log != nil {
				m.log.Warnf("transaction %d: send attempt %d failed: %v", t.MessageID(), t.sendCount+1, err)
			}
			if t.sendCount == 0 {
				m.config.Metrics.TransactionStarted()
			} else {
				m.config.Metrics.Retransmitted()
			}
			t.sendCount++
			t.deadline = t.deadline.Add(timeout)
			t.retransCounter++
		} else {
			maxReached = true
		}
	}

	if t.ackReceived || maxReached {
		if m.log != nil {
			m.log.Debugf("transaction %d: retired without response after %d sends", t.MessageID(), t.sendCount)
		}
		m.retire(t, nil, metrics.RetireTimeout)
		return false
	}
	return true
}

// HandleResponse matches an inbound non-request message against the pending
// set and reports whether a transaction consumed it.
//
// An ACK or RST with a matching message id marks the transaction
// acknowledged. The transaction finishes when the peer reset it, when the
// tracked message was itself a response and is acknowledged, or when the
// inbound token equals the tracked token. Confirmable responses are ACKed
// before the callback runs.
//
// A 4.01 Unauthorized response does not finish the transaction while
// retransmissions remain: it is re-armed one ACKTimeout later. Some servers
// answer a request that raced a DTLS re-handshake this way and accept the
// retransmission. Only the unauthorized code gets this treatment.
func (m *Manager) HandleResponse(msg *coap.Message) bool {
	if msg == nil || msg.IsRequest() {
		return false
	}

	for _, t := range m.pending.snapshot() {
		if t.retired {
			continue
		}

		found := false
		reset := false
		if !t.ackReceived &&
			(msg.Type == coap.Acknowledgement || msg.Type == coap.Reset) &&
			t.MessageID() == msg.MessageID {
			found = true
			t.ackReceived = true
			reset = msg.Type == coap.Reset
			t.reset = reset
		}

		if reset || m.finished(t, msg) {
			if !reset {
				if msg.Type == coap.Confirmable {
					m.sendAck(t.Peer, msg.MessageID)
				}
				if msg.Code == codes.Unauthorized && t.Retransmits() < m.params.MaxRetransmit {
					t.ackReceived = false
					t.deadline = t.deadline.Add(m.params.ACKTimeout)
					if m.log != nil {
						m.log.Infof("transaction %d: unauthorized, retrying at %s", t.MessageID(), t.deadline.Format(time.RFC3339))
					}
					return true
				}
			}

			reason := metrics.RetireResponse
			if reset {
				reason = metrics.RetireReset
			}
			m.retire(t, msg, reason)
			return true
		}

		if found {
			wait := t.ResponseTimeout
			if wait <= 0 {
				wait = m.params.ACKTimeout * time.Duration(t.retransCounter)
			}
			t.deadline = m.config.Now().Add(wait)
			return true
		}
	}
	return false
}

// finished reports whether msg completes t.
func (m *Manager) finished(t *Transaction, msg *coap.Message) bool {
	if coap.IsResponse(t.Code()) {
		return t.ackReceived
	}
	if len(t.Token()) == 0 {
		return t.ackReceived
	}
	return bytes.Equal(t.Token(), msg.Token)
}

func (m *Manager) sendAck(peer Peer, mid uint16) {
	if peer == nil {
		return
	}
	data, err := coap.NewAck(mid).Marshal()
	if err != nil {
		return
	}
	if err := peer.Send(data); err != nil && m.log != nil {
		m.log.Warnf("ack %d: send failed: %v", mid, err)
	}
}

// Step retransmits every transaction whose deadline has passed and returns
// timeout lowered to the time left until the nearest deadline. The result is
// never below the configured granularity, and is exactly the granularity
// after a retirement so the caller polls again promptly.
func (m *Manager) Step(now time.Time, timeout time.Duration) time.Duration {
	if m.config.SecureChannel != nil {
		m.config.SecureChannel.CheckRetransmit(now)
	}

	g := m.params.Granularity
	for _, t := range m.pending.snapshot() {
		if t.retired {
			continue
		}

		alive := true
		if !t.deadline.After(now) {
			alive = m.send(t, now)
		}

		if alive {
			interval := t.deadline.Sub(now)
			if interval < g {
				interval = g
			}
			if timeout > interval {
				timeout = interval
			}
		} else {
			timeout = g
		}
	}
	return timeout
}

// RemoveAll drops every pending transaction without invoking callbacks.
func (m *Manager) RemoveAll() {
	for _, t := range m.pending.clear() {
		t.retired = true
		m.config.Metrics.TransactionRetired(metrics.RetireFlushed)
	}
	m.config.Metrics.SetPending(0)
}

// Count returns the number of pending transactions.
func (m *Manager) Count() int {
	return m.pending.len()
}

// Pending returns the pending transactions in message id order.
func (m *Manager) Pending() []*Transaction {
	return m.pending.snapshot()
}

func (m *Manager) retire(t *Transaction, response *coap.Message, reason string) {
	if t.retired {
		return
	}
	t.retired = true
	m.pending.remove(t)
	m.config.Metrics.TransactionRetired(reason)
	m.config.Metrics.SetPending(m.pending.len())
	if t.Callback != nil {
		t.Callback(t, response)
	}
}
