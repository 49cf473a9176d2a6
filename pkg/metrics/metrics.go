// Package metrics provides Prometheus instrumentation for the LWM2M engine.
//
// All recording methods are safe on a nil *Metrics, so components can carry an
// optional metrics handle without guarding every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace is used when New is given an empty namespace.
const DefaultNamespace = "lwm2m"

// Retire reasons recorded by TransactionRetired.
const (
	RetireResponse = "response"
	RetireReset    = "reset"
	RetireTimeout  = "timeout"
	RetireNoServer = "no_server"
	RetireEncode   = "encode_error"
	RetireFlushed  = "flushed"
)

// Metrics holds the engine collectors.
type Metrics struct {
	// Transaction metrics
	TransactionsStarted prometheus.Counter
	Retransmissions     prometheus.Counter
	TransactionsRetired *prometheus.CounterVec
	PendingTransactions prometheus.Gauge

	// Session metrics
	StateTransitions *prometheus.CounterVec
	Events           *prometheus.CounterVec

	// Inbound traffic
	InboundMessages *prometheus.CounterVec
	BlockTransfers  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TransactionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transaction",
				Name:      "started_total",
				Help:      "Number of reliable CoAP transactions started",
			},
		),
		Retransmissions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transaction",
				Name:      "retransmissions_total",
				Help:      "Number of CoAP retransmissions",
			},
		),
		TransactionsRetired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transaction",
				Name:      "retired_total",
				Help:      "Number of retired transactions by reason",
			},
			[]string{"reason"},
		),
		PendingTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transaction",
				Name:      "pending",
				Help:      "Number of transactions awaiting completion",
			},
		),
		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "state_transitions_total",
				Help:      "Number of session state transitions by target state",
			},
			[]string{"state"},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "events_total",
				Help:      "Number of application events by kind",
			},
			[]string{"kind"},
		),
		InboundMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coap",
				Name:      "inbound_total",
				Help:      "Number of inbound CoAP messages by type",
			},
			[]string{"type"},
		),
		BlockTransfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "block1",
				Name:      "blocks_total",
				Help:      "Number of Block1 fragments by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// TransactionStarted records a first transmission.
func (m *Metrics) TransactionStarted() {
	if m == nil {
		return
	}
	m.TransactionsStarted.Inc()
}

// Retransmitted records one retransmission.
func (m *Metrics) Retransmitted() {
	if m == nil {
		return
	}
	m.Retransmissions.Inc()
}

// TransactionRetired records a retired transaction.
func (m *Metrics) TransactionRetired(reason string) {
	if m == nil {
		return
	}
	m.TransactionsRetired.WithLabelValues(reason).Inc()
}

// SetPending sets the pending transaction gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingTransactions.Set(float64(n))
}

// StateChanged records a session state transition.
func (m *Metrics) StateChanged(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// EventEmitted records an application event.
func (m *Metrics) EventEmitted(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

// MessageReceived records an inbound CoAP message.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(msgType).Inc()
}

// BlockOutcome records the outcome of one Block1 fragment.
func (m *Metrics) BlockOutcome(outcome string) {
	if m == nil {
		return
	}
	m.BlockTransfers.WithLabelValues(outcome).Inc()
}
