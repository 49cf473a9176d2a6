package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/transport/v3/deadline"
	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures lossy network simulation on a Pipe.
type NetworkCondition struct {
	// DropRate is the probability of dropping a datagram (0.0 - 1.0).
	DropRate float64

	// DuplicateRate is the probability of delivering a datagram twice.
	DuplicateRate float64

	// Delay is added before each datagram is handed to the bridge.
	Delay time.Duration
}

const (
	// pipeHeaderSize is the sender port carried in front of each datagram.
	pipeHeaderSize = 2

	pipeQueueSize      = 64
	pipeEphemeralStart = 49152
)

// Pipe is a bidirectional in-memory datagram link between two sides,
// built on pion's test.Bridge. Datagrams are delivered by a background
// ticker.
//
// Each side may open any number of endpoints over the pipe's lifetime.
// The most recently opened endpoint of a side receives; closing it does
// not affect the link, so a side can reconnect with a fresh endpoint.
type Pipe struct {
	bridge *test.Bridge

	mu        sync.Mutex
	condition NetworkCondition
	rng       *rand.Rand
	dropNext  [2]int
	receivers [2]*PipePacketConn
	endpoints map[*PipePacketConn]struct{}
	nextPort  int
	closed    bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPipe creates a pipe and starts delivering datagrams.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge:    test.NewBridge(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		endpoints: make(map[*PipePacketConn]struct{}),
		nextPort:  pipeEphemeralStart,
		stopCh:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.deliver()
	go p.route(0)
	go p.route(1)
	return p
}

func (p *Pipe) deliver() {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// route hands datagrams arriving on side id to that side's receiver.
// It exits once the bridge conn is closed.
func (p *Pipe) route(id int) {
	conn := p.conn(id)
	buf := make([]byte, pipeHeaderSize+MaxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if n < pipeHeaderSize {
			continue
		}
		pkt := pipePacket{
			data: append([]byte(nil), buf[pipeHeaderSize:n]...),
			from: PipeAddr{ID: 1 - id, Port: int(binary.BigEndian.Uint16(buf))},
		}

		p.mu.Lock()
		rc := p.receivers[id]
		p.mu.Unlock()
		if rc != nil {
			rc.enqueue(pkt)
		}
	}
}

// SetCondition configures network simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// DropNext discards the next n datagrams written by side id.
func (p *Pipe) DropNext(id, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropNext[id&1] = n
}

// shouldDrop consumes one pending drop for side id or rolls the drop rate.
func (p *Pipe) shouldDrop(id int) (drop, duplicate bool, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dropNext[id] > 0 {
		p.dropNext[id]--
		return true, false, 0
	}
	c := p.condition
	if c.DropRate > 0 && p.rng.Float64() < c.DropRate {
		return true, false, 0
	}
	return false, c.DuplicateRate > 0 && p.rng.Float64() < c.DuplicateRate, c.Delay
}

func (p *Pipe) conn(id int) net.Conn {
	if id == 0 {
		return p.bridge.GetConn0()
	}
	return p.bridge.GetConn1()
}

// open creates a new endpoint on side id and makes it that side's receiver.
// Port 0 picks an unused ephemeral port.
func (p *Pipe) open(id, port int) (*PipePacketConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, net.ErrClosed
	}
	if port == 0 {
		port = p.nextPort
		p.nextPort++
	}
	c := &PipePacketConn{
		pipe:         p,
		localID:      id,
		port:         port,
		inbound:      make(chan pipePacket, pipeQueueSize),
		done:         make(chan struct{}),
		readDeadline: deadline.New(),
	}
	p.receivers[id] = c
	p.endpoints[c] = struct{}{}
	return c, nil
}

func (p *Pipe) detach(c *PipePacketConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.receivers[c.localID] == c {
		p.receivers[c.localID] = nil
	}
	delete(p.endpoints, c)
}

// Close closes every open endpoint and the link itself. Blocked readers
// return net.ErrClosed.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	open := p.endpoints
	p.endpoints = make(map[*PipePacketConn]struct{})
	p.receivers = [2]*PipePacketConn{}
	p.mu.Unlock()

	for c := range open {
		c.shutdown()
	}

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	// A closed bridge conn releases its reader on the next tick once its
	// queue is empty. Nobody receives in-flight datagrams anymore.
	for id := range 2 {
		p.bridge.Drop(id, 0, p.bridge.Len(id))
	}
	p.bridge.Tick()

	close(p.stopCh)
	p.wg.Wait()
	return errors.Join(err0, err1)
}

// PipeAddr implements net.Addr for pipe endpoints.
type PipeAddr struct {
	ID   int
	Port int
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d:%d", a.ID, a.Port) }

type pipePacket struct {
	data []byte
	from net.Addr
}

// PipePacketConn is one pipe endpoint exposed as a net.PacketConn.
// WriteTo ignores the address since the pipe has a single peer side.
type PipePacketConn struct {
	pipe    *Pipe
	localID int
	port    int

	inbound      chan pipePacket
	done         chan struct{}
	closeOnce    sync.Once
	readDeadline *deadline.Deadline
}

// enqueue drops the datagram when the endpoint is closed or its queue is
// full, like a socket with an exhausted receive buffer.
func (c *PipePacketConn) enqueue(pkt pipePacket) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.inbound <- pkt:
	default:
	}
}

// ReadFrom reads one datagram. The returned address is the sending
// endpoint's.
func (c *PipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case <-c.done:
		return 0, nil, net.ErrClosed
	default:
	}
	select {
	case pkt := <-c.inbound:
		return copy(b, pkt.data), pkt.from, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	case <-c.readDeadline.Done():
		return 0, nil, os.ErrDeadlineExceeded
	}
}

// WriteTo writes one datagram, applying the pipe's network condition.
func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}
	if len(b) > MaxDatagramSize {
		return 0, ErrMessageTooLarge
	}

	drop, duplicate, delay := c.pipe.shouldDrop(c.localID)
	if drop {
		return len(b), nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	frame := make([]byte, pipeHeaderSize+len(b))
	binary.BigEndian.PutUint16(frame, uint16(c.port))
	copy(frame[pipeHeaderSize:], b)

	conn := c.pipe.conn(c.localID)
	if duplicate {
		if _, err := conn.Write(frame); err != nil {
			return 0, err
		}
	}
	if _, err := conn.Write(frame); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes this endpoint. The pipe stays usable for new endpoints.
func (c *PipePacketConn) Close() error {
	c.pipe.detach(c)
	c.shutdown()
	return nil
}

func (c *PipePacketConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// LocalAddr returns the endpoint address.
func (c *PipePacketConn) LocalAddr() net.Addr {
	return PipeAddr{ID: c.localID, Port: c.port}
}

func (c *PipePacketConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *PipePacketConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.Set(t)
	return nil
}

// SetWriteDeadline is a no-op; writes never block.
func (c *PipePacketConn) SetWriteDeadline(time.Time) error {
	return nil
}

var _ net.PacketConn = (*PipePacketConn)(nil)

// PipeFactory hands out endpoints on one side of a Pipe. Any host resolves
// to the peer side.
type PipeFactory struct {
	pipe    *Pipe
	localID int
}

// NewPipeFactoryPair creates two factories joined by an auto-delivering pipe.
// Use the first for the client under test and the second for the fake server.
func NewPipeFactoryPair() (*PipeFactory, *PipeFactory) {
	p := NewPipe()
	return &PipeFactory{pipe: p, localID: 0}, &PipeFactory{pipe: p, localID: 1}
}

// Pipe returns the underlying pipe.
func (f *PipeFactory) Pipe() *Pipe {
	return f.pipe
}

// CreateUDPConn opens a fresh endpoint on this side. It replaces the
// previous endpoint as the side's receiver.
func (f *PipeFactory) CreateUDPConn(port int) (net.PacketConn, error) {
	c, err := f.pipe.open(f.localID, port)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveAddr returns the peer side's address for port regardless of host.
func (f *PipeFactory) ResolveAddr(_ string, port int) (net.Addr, error) {
	return PipeAddr{ID: 1 - f.localID, Port: port}, nil
}

var _ Factory = (*PipeFactory)(nil)
