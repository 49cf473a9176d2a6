package lwm2m

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"github.com/backkem/lwm2m/pkg/coap"
	"github.com/backkem/lwm2m/pkg/transport"
	"github.com/backkem/lwm2m/pkg/uri"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventLog records application events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) find(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func (l *eventLog) has(kind EventKind) bool {
	_, ok := l.find(kind)
	return ok
}

func (l *eventLog) statuses() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, ev := range l.events {
		if ev.Kind == EventStatus {
			out = append(out, ev.Param.(State))
		}
	}
	return out
}

// testHandler serves object 3311 for the session tests.
type testHandler struct {
	UnsupportedHandler

	mu       sync.Mutex
	reads    int
	written  []byte
	attrs    map[string]string
	deferAll bool
	deferred chan uint16
}

func newTestHandler() *testHandler {
	return &testHandler{deferred: make(chan uint16, 8)}
}

func (h *testHandler) Read(req *Request) (Result, Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads++
	return ResultContent, TextValue("1")
}

func (h *testHandler) Write(req *Request) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append([]byte(nil), req.Payload...)
	return ResultChanged
}

func (h *testHandler) Execute(req *Request) Result {
	if h.deferAll {
		h.deferred <- req.MessageID
		return ResultDeferred
	}
	return ResultChanged
}

func (h *testHandler) Observe(req *Request) (Result, Value) {
	return ResultContent, TextValue("0")
}

func (h *testHandler) SetParams(req *Request) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attrs = req.Attributes
	return ResultChanged
}

func (h *testHandler) Discover(req *Request) (Result, []uri.ID) {
	if h.deferAll {
		h.deferred <- req.MessageID
		return ResultDeferred, nil
	}
	return ResultContent, []uri.ID{5850, 5851}
}

func (h *testHandler) readCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

func (h *testHandler) payload() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.written
}

// fakeServer is the server side of the pipe. It decodes every datagram the
// client sends.
type fakeServer struct {
	t    *testing.T
	pc   net.PacketConn
	msgs chan *coap.Message
	mid  uint16
}

func newFakeServer(t *testing.T, f *transport.PipeFactory) *fakeServer {
	t.Helper()
	pc, err := f.CreateUDPConn(transport.DefaultPort)
	if err != nil {
		t.Fatalf("CreateUDPConn() error = %v", err)
	}
	fs := &fakeServer{t: t, pc: pc, msgs: make(chan *coap.Message, 64), mid: 0x4000}
	go fs.readLoop()
	return fs
}

func (fs *fakeServer) readLoop() {
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		n, _, err := fs.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		msg, err := coap.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		fs.msgs <- msg
	}
}

func (fs *fakeServer) send(msg *coap.Message) {
	fs.t.Helper()
	data, err := msg.Marshal()
	if err != nil {
		fs.t.Fatalf("Marshal() error = %v", err)
	}
	if _, err := fs.pc.WriteTo(data, transport.PipeAddr{ID: 0}); err != nil {
		fs.t.Fatalf("WriteTo() error = %v", err)
	}
}

// request sends a confirmable request and returns it.
func (fs *fakeServer) request(msg coap.Message) *coap.Message {
	fs.t.Helper()
	fs.mid++
	msg.Type = coap.Confirmable
	msg.MessageID = fs.mid
	if msg.Token == nil {
		msg.Token = []byte{0xAB, byte(fs.mid)}
	}
	fs.send(&msg)
	return &msg
}

// ack answers req with a piggybacked response.
func (fs *fakeServer) ack(req *coap.Message, resp coap.Message) {
	fs.t.Helper()
	resp.Type = coap.Acknowledgement
	resp.MessageID = req.MessageID
	resp.Token = req.Token
	fs.send(&resp)
}

type harness struct {
	t       *testing.T
	session *Session
	server  *fakeServer
	clock   *fakeClock
	events  *eventLog
	handler *testHandler
	storage *MemoryStorage
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	clientF, serverF := transport.NewPipeFactoryPair()
	t.Cleanup(func() { clientF.Pipe().Close() })

	h := &harness{
		t:       t,
		clock:   newFakeClock(),
		events:  &eventLog{},
		handler: newTestHandler(),
		storage: NewMemoryStorage(),
	}
	config := Config{
		EndpointName: "test-ep",
		ServerHost:   "lwm2m.example",
		Factory:      clientF,
		Now:          h.clock.Now,
		OnEvent:      h.events.record,
		Storage:      h.storage,
	}
	if mutate != nil {
		mutate(&config)
	}

	s, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.AddObject(NewObject(3311, h.handler).WithInstances(0)); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	h.session = s
	h.server = newFakeServer(t, serverF)
	return h
}

// stepUntil steps the session until cond holds.
func (h *harness) stepUntil(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		h.session.Step(time.Second)
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s (state %s)", what, h.session.State())
}

// expect steps the session until the server receives a message.
func (h *harness) expect() *coap.Message {
	h.t.Helper()
	var msg *coap.Message
	h.stepUntil("server message", func() bool {
		select {
		case msg = <-h.server.msgs:
			return true
		default:
			return false
		}
	})
	return msg
}

func (h *harness) waitEvent(kind EventKind) Event {
	h.t.Helper()
	h.stepUntil("event "+kind.String(), func() bool { return h.events.has(kind) })
	ev, _ := h.events.find(kind)
	return ev
}

// register runs the registration against the fake server and returns the
// registration request.
func (h *harness) register(lifetime time.Duration) *coap.Message {
	h.t.Helper()
	if err := h.session.Register(lifetime); err != nil {
		h.t.Fatalf("Register() error = %v", err)
	}
	req := h.expect()
	h.server.ack(req, coap.Message{Code: codes.Created, LocationPath: []string{"rd", "5a3f"}})
	h.stepUntil("Ready", func() bool { return h.session.State() == StateReady })
	return req
}

// drain discards whatever the server has received so far, including
// datagrams still in flight.
func (h *harness) drain() {
	time.Sleep(20 * time.Millisecond)
	for {
		select {
		case <-h.server.msgs:
		default:
			return
		}
	}
}

// eventually waits for cond without stepping the session.
func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}
