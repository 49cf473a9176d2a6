// Package securechannel secures the LWM2M transport with DTLS 1.2 in
// pre-shared key mode.
//
// A Provider plugs into transport.Conn as its Securer. Each Connect yields a
// Channel whose handshake runs in the background; writes fail with
// ErrNotEstablished until it completes, and reads block until then. The
// engine polls Ready before registering and services CheckRetransmit from
// its transaction sweep so a stalled handshake is abandoned on the engine's
// clock.
package securechannel

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"

	"github.com/backkem/lwm2m/pkg/transport"
)

// Provider creates DTLS client channels.
type Provider struct {
	config Config
	log    logging.LeveledLogger

	mu      sync.Mutex
	current *Channel
}

// NewProvider validates config and creates a Provider.
func NewProvider(config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	p := &Provider{config: config}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("securechannel")
	}
	return p, nil
}

// Client wraps conn in a DTLS client towards raddr and starts the handshake.
func (p *Provider) Client(conn net.PacketConn, raddr net.Addr) (transport.DatagramConn, error) {
	dc, err := dtls.Client(conn, raddr, p.config.dtlsConfig())
	if err != nil {
		return nil, err
	}

	ch := newChannel(dc, p.config, p.log)
	p.mu.Lock()
	p.current = ch
	p.mu.Unlock()

	ch.start(time.Now())
	return ch, nil
}

// Current returns the most recent channel, or nil.
func (p *Provider) Current() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// CheckRetransmit services the current channel.
func (p *Provider) CheckRetransmit(now time.Time) {
	if ch := p.Current(); ch != nil {
		ch.CheckRetransmit(now)
	}
}

var _ transport.Securer = (*Provider)(nil)

// Channel is one DTLS session.
type Channel struct {
	conn    *dtls.Conn
	config  Config
	log     logging.LeveledLogger
	done    chan struct{}
	closeCh chan struct{}

	mu        sync.Mutex
	state     HandshakeState
	err       error
	startedAt time.Time
	cancel    context.CancelFunc
	closed    bool
}

func newChannel(conn *dtls.Conn, config Config, log logging.LeveledLogger) *Channel {
	return &Channel{
		conn:    conn,
		config:  config,
		log:     log,
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

func (c *Channel) start(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)

	c.mu.Lock()
	c.state = HandshakeInProgress
	c.startedAt = now
	c.cancel = cancel
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debugf("handshake started with %s", c.conn.RemoteAddr())
	}

	go func() {
		defer cancel()
		err := c.conn.HandshakeContext(ctx)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			err = ErrHandshakeTimeout
		}
		c.finish(err)
	}()
}

func (c *Channel) finish(err error) {
	c.mu.Lock()
	if c.state != HandshakeInProgress {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.state = HandshakeFailed
		c.err = err
	} else {
		c.state = HandshakeEstablished
	}
	c.mu.Unlock()
	close(c.done)

	if err != nil {
		if c.log != nil {
			c.log.Warnf("handshake failed: %v", err)
		}
		if c.config.Callbacks.OnError != nil {
			c.config.Callbacks.OnError(err)
		}
		return
	}
	if c.log != nil {
		c.log.Infof("handshake complete with %s", c.conn.RemoteAddr())
	}
	if c.config.Callbacks.OnEstablished != nil {
		c.config.Callbacks.OnEstablished()
	}
}

// State returns the handshake state.
func (c *Channel) State() HandshakeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether application data can flow.
func (c *Channel) Ready() bool {
	return c.State() == HandshakeEstablished
}

// Err returns the handshake error, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// CheckRetransmit abandons a handshake that has been in progress longer than
// the configured timeout as measured by now. Flight retransmission itself is
// handled inside the DTLS stack.
func (c *Channel) CheckRetransmit(now time.Time) {
	c.mu.Lock()
	expired := c.state == HandshakeInProgress && now.Sub(c.startedAt) >= c.config.HandshakeTimeout
	cancel := c.cancel
	c.mu.Unlock()

	if expired {
		if c.log != nil {
			c.log.Warnf("handshake with %s expired", c.conn.RemoteAddr())
		}
		c.finish(ErrHandshakeTimeout)
		if cancel != nil {
			cancel()
		}
	}
}

// Read blocks until the handshake finishes, then reads one record.
func (c *Channel) Read(b []byte) (int, error) {
	select {
	case <-c.done:
	case <-c.closeCh:
		return 0, ErrClosed
	}
	if err := c.Err(); err != nil {
		return 0, err
	}
	return c.conn.Read(b)
}

// Write sends one record. It fails until the handshake completes.
func (c *Channel) Write(b []byte) (int, error) {
	if !c.Ready() {
		return 0, ErrNotEstablished
	}
	return c.conn.Write(b)
}

// Close sends close_notify and releases the session.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	close(c.closeCh)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return c.conn.Close()
}

var _ transport.DatagramConn = (*Channel)(nil)
