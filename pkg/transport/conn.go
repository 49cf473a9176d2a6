// Package transport provides the datagram transport used by the LWM2M engine.
//
// A Conn is the transport session for one server: it owns a packet socket,
// an optional secure datagram layer, and a read loop that queues inbound
// datagrams for the engine's worker to drain one at a time. Connection state
// changes are reported through an EventHandler.
package transport

import (
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/pion/logging"
)

// DefaultPort is the IANA CoAP port.
const DefaultPort = 5683

// DefaultSecurePort is the IANA CoAP over DTLS port.
const DefaultSecurePort = 5684

// MaxDatagramSize is the read buffer size for one datagram.
const MaxDatagramSize = 2048

// DefaultQueueSize bounds the inbound queue of a Conn.
const DefaultQueueSize = 32

// DatagramConn is a connected datagram session, either a plain socket bound
// to one peer or a secure channel layered on top of it.
type DatagramConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Securer wraps a raw packet connection into a secure datagram session.
type Securer interface {
	Client(conn net.PacketConn, raddr net.Addr) (DatagramConn, error)
}

// handshaker is implemented by secure sessions that complete a handshake
// asynchronously.
type handshaker interface {
	Ready() bool
}

// ConnConfig configures a Conn.
type ConnConfig struct {
	// Host and Port address the server.
	Host string
	Port int

	// LocalPort is the local port to bind (0 for ephemeral).
	LocalPort int

	// Factory creates sockets. Defaults to NetFactory.
	Factory Factory

	// Securer, when set, wraps the socket in a secure channel on Connect.
	Securer Securer

	// OnEvent receives connection events. Optional.
	OnEvent EventHandler

	// OnReceive is called after a datagram is queued, typically to wake the
	// engine's worker. Optional.
	OnReceive func()

	// QueueSize bounds the inbound queue. Defaults to DefaultQueueSize.
	QueueSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Conn is the transport session for one server.
type Conn struct {
	config ConnConfig
	log    logging.LeveledLogger

	mu        sync.Mutex
	pc        net.PacketConn
	dc        DatagramConn
	raddr     net.Addr
	queue     [][]byte
	connected bool
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewConn creates an unconnected transport session.
func NewConn(config ConnConfig) (*Conn, error) {
	if config.Host == "" {
		return nil, ErrInvalidAddress
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, ErrInvalidAddress
	}
	if config.Factory == nil {
		config.Factory = NetFactory{}
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	c := &Conn{
		config:  config,
		closeCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("transport")
	}
	return c, nil
}

// Address returns "host:port" of the server.
func (c *Conn) Address() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Connect opens the socket, resolves the server address, applies the secure
// layer and starts the read loop. EventConnected is reported on success.
// Calling Connect on a connected Conn is a no-op.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	raddr, err := c.config.Factory.ResolveAddr(c.config.Host, c.config.Port)
	if err != nil {
		c.mu.Unlock()
		return errors.Join(ErrResolve, err)
	}

	pc, err := c.config.Factory.CreateUDPConn(c.config.LocalPort)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	var dc DatagramConn = &boundConn{pc: pc, raddr: raddr}
	if c.config.Securer != nil {
		dc, err = c.config.Securer.Client(pc, raddr)
		if err != nil {
			pc.Close()
			c.mu.Unlock()
			return err
		}
	}

	c.pc = pc
	c.dc = dc
	c.raddr = raddr
	c.connected = true
	c.mu.Unlock()

	if c.log != nil {
		c.log.Infof("connected to %s (secure=%v)", raddr, c.config.Securer != nil)
	}

	c.wg.Add(1)
	go c.readLoop(dc)

	c.emit(EventConnected, nil)
	return nil
}

// Connected reports whether Connect succeeded and the Conn is not closed.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// SecureReady reports whether the secure layer finished its handshake.
// Without a secure layer it equals Connected.
func (c *Conn) SecureReady() bool {
	c.mu.Lock()
	dc := c.dc
	ok := c.connected && !c.closed
	c.mu.Unlock()
	if !ok {
		return false
	}
	if h, isHandshaker := dc.(handshaker); isHandshaker {
		return h.Ready()
	}
	return true
}

// RemoteAddr returns the resolved server address, nil before Connect.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raddr
}

// Write sends one datagram to the server.
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	dc := c.dc
	c.mu.Unlock()

	if len(data) > MaxDatagramSize {
		return ErrMessageTooLarge
	}

	if c.log != nil {
		c.log.Tracef("sending %d bytes to %s", len(data), c.raddr)
	}
	if _, err := dc.Write(data); err != nil {
		if c.log != nil {
			c.log.Warnf("send failed: %v", err)
		}
		return err
	}
	return nil
}

// Read pops the oldest queued datagram.
func (c *Conn) Read() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	data := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return data, true
}

// Pending returns the number of queued datagrams.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close stops the read loop and releases the socket. Queued datagrams are
// dropped. No event is reported for a local close.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dc, pc := c.dc, c.pc
	c.queue = nil
	close(c.closeCh)
	c.mu.Unlock()

	var err error
	if dc != nil {
		err = dc.Close()
	}
	if _, plain := dc.(*boundConn); !plain && pc != nil {
		// The secure layer does not own the socket it wraps.
		if cerr := pc.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	c.wg.Wait()

	if c.log != nil {
		c.log.Debugf("closed connection to %s", c.Address())
	}
	return err
}

func (c *Conn) readLoop(dc DatagramConn) {
	defer c.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, err := dc.Read(buf)
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			if c.log != nil {
				c.log.Warnf("read failed: %v", err)
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			c.emit(EventDisconnected, err)
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if len(c.queue) >= c.config.QueueSize {
			c.mu.Unlock()
			if c.log != nil {
				c.log.Warnf("inbound queue full, dropping %d bytes", n)
			}
			continue
		}
		c.queue = append(c.queue, data)
		c.mu.Unlock()

		if c.log != nil {
			c.log.Tracef("received %d bytes", n)
		}
		if c.config.OnReceive != nil {
			c.config.OnReceive()
		}
	}
}

func (c *Conn) emit(ev Event, err error) {
	if c.config.OnEvent != nil {
		c.config.OnEvent(c, ev, err)
	}
}

// boundConn is a packet socket bound to a single peer.
type boundConn struct {
	pc    net.PacketConn
	raddr net.Addr
}

// Read skips datagrams that did not come from the bound peer.
func (b *boundConn) Read(p []byte) (int, error) {
	for {
		n, addr, err := b.pc.ReadFrom(p)
		if err != nil {
			return n, err
		}
		if sameAddr(addr, b.raddr) {
			return n, nil
		}
	}
}

func (b *boundConn) Write(p []byte) (int, error) {
	return b.pc.WriteTo(p, b.raddr)
}

func (b *boundConn) Close() error {
	return b.pc.Close()
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.Network() == b.Network() && a.String() == b.String()
}
