package transaction

import "time"

// CoAP transmission parameters from RFC 7252 Section 4.8.
//
// The engine uses the fixed exponential schedule without the random factor:
// the first retransmission happens ACKTimeout after the initial send and each
// later one doubles the wait.
const (
	// DefaultACKTimeout is ACK_TIMEOUT.
	// RFC 7252: ACK_TIMEOUT = 2 seconds
	DefaultACKTimeout = 2 * time.Second

	// DefaultMaxRetransmit is MAX_RETRANSMIT. A transaction is sent at most
	// DefaultMaxRetransmit+1 times.
	// RFC 7252: MAX_RETRANSMIT = 4
	DefaultMaxRetransmit = 4

	// DefaultGranularity is the smallest sleep hint returned by Step, so the
	// host always makes forward progress.
	DefaultGranularity = time.Second
)

// Params configures the retransmission schedule.
type Params struct {
	// ACKTimeout is the wait before the first retransmission.
	ACKTimeout time.Duration

	// MaxRetransmit is the number of retransmissions after the first send.
	MaxRetransmit int

	// Granularity is the minimum timeout reported by Step.
	Granularity time.Duration
}

// DefaultParams returns the RFC 7252 defaults.
func DefaultParams() Params {
	return Params{
		ACKTimeout:    DefaultACKTimeout,
		MaxRetransmit: DefaultMaxRetransmit,
		Granularity:   DefaultGranularity,
	}
}

// withDefaults fills zero fields.
func (p Params) withDefaults() Params {
	if p.ACKTimeout <= 0 {
		p.ACKTimeout = DefaultACKTimeout
	}
	if p.MaxRetransmit <= 0 {
		p.MaxRetransmit = DefaultMaxRetransmit
	}
	if p.Granularity <= 0 {
		p.Granularity = DefaultGranularity
	}
	return p
}

// Backoff returns the wait after send attempt n (1-based) before attempt n+1:
// ACKTimeout * 2^(n-1).
//
//	attempt 1 -> T, attempt 2 -> 2T, attempt 3 -> 4T ...
func (p Params) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.ACKTimeout << uint(n-1)
}

// MaxAttempts returns the total number of sends allowed.
func (p Params) MaxAttempts() int {
	return p.MaxRetransmit + 1
}
