package lwm2m

import (
	"errors"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"github.com/backkem/lwm2m/pkg/coap"
	"github.com/backkem/lwm2m/pkg/transport"
	"github.com/backkem/lwm2m/pkg/uri"
)

func bootstrapConfigFn(c *Config) {
	c.ServerHost = ""
	c.Bootstrap = true
	c.BootstrapHost = "bs.example"
}

func TestBootstrap(t *testing.T) {
	h := newHarness(t, bootstrapConfigFn)
	if err := h.session.Register(time.Hour); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	req := h.expect()
	if req.Code != codes.POST || !slices.Equal(req.URIPath, []string{"bs"}) {
		t.Fatalf("bootstrap request = %v %v, want POST [bs]", req.Code, req.URIPath)
	}
	if !slices.Equal(req.URIQuery, []string{"ep=test-ep"}) {
		t.Errorf("URIQuery = %v, want [ep=test-ep]", req.URIQuery)
	}
	if h.session.State() != StateBootstrapping {
		t.Fatalf("State() = %v, want %v", h.session.State(), StateBootstrapping)
	}
	h.server.ack(req, coap.Message{Code: codes.Changed})

	writes := []struct {
		path    []string
		payload string
		want    codes.Code
	}{
		{path: []string{"0", "0", "0"}, payload: "coap://bs.example:5683", want: codes.Changed},
		{path: []string{"0", "0", "1"}, payload: "1", want: codes.Changed},
		{path: []string{"0", "1", "0"}, payload: "not a uri", want: codes.BadRequest},
		{path: []string{"0", "1", "0"}, payload: "coap://lwm2m.example:5690", want: codes.Changed},
		{path: []string{"1", "0", "1"}, payload: "86400", want: codes.Changed},
	}
	for _, w := range writes {
		h.server.request(coap.Message{Code: codes.PUT, URIPath: w.path, Payload: []byte(w.payload)})
		resp := h.expect()
		if resp.Code != w.want {
			t.Errorf("PUT %v %q: Code = %v, want %v", w.path, w.payload, resp.Code, w.want)
		}
	}

	// Reads during bootstrap reach registered objects.
	h.server.request(coap.Message{Code: codes.GET, URIPath: []string{"3311", "0", "5850"}})
	if resp := h.expect(); resp.Code != codes.Content {
		t.Errorf("GET during bootstrap: Code = %v, want %v", resp.Code, codes.Content)
	}

	h.server.request(coap.Message{Code: codes.POST, URIPath: []string{"bs"}})
	if resp := h.expect(); resp.Code != codes.Changed {
		t.Errorf("bootstrap finish: Code = %v, want %v", resp.Code, codes.Changed)
	}

	ev := h.waitEvent(EventBootstrapSuccess)
	if ev.Param != "lwm2m.example" {
		t.Errorf("BootstrapSuccess param = %v, want lwm2m.example", ev.Param)
	}
	if h.session.serverHost != "lwm2m.example" || h.session.serverPort != 5690 {
		t.Errorf("server = %s:%d, want lwm2m.example:5690", h.session.serverHost, h.session.serverPort)
	}
	if !h.events.has(EventBootstrapStart) {
		t.Error("missing BootstrapStart")
	}
	if got := h.events.statuses(); !slices.Contains(got, StateConnecting) {
		t.Errorf("statuses = %v, want Connecting", got)
	}
}

func TestBootstrapDeleteResetsConfig(t *testing.T) {
	h := newHarness(t, bootstrapConfigFn)
	if err := h.session.Register(time.Hour); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	req := h.expect()
	h.server.ack(req, coap.Message{Code: codes.Changed})

	h.server.request(coap.Message{Code: codes.PUT, URIPath: []string{"0", "2", "0"}, Payload: []byte("coap://a.example")})
	h.expect()
	h.server.request(coap.Message{Code: codes.DELETE, URIPath: []string{"0"}})
	if resp := h.expect(); resp.Code != codes.Deleted {
		t.Fatalf("DELETE Code = %v, want %v", resp.Code, codes.Deleted)
	}
	if _, ok := h.session.bsConfig.serverURI(); ok {
		t.Error("serverURI() found a server after delete")
	}

	// Finishing without any server URI fails the bootstrap.
	h.server.request(coap.Message{Code: codes.POST, URIPath: []string{"bs"}})
	h.expect()
	h.waitEvent(EventBootstrapFailed)
	if h.events.has(EventBootstrapSuccess) {
		t.Error("unexpected BootstrapSuccess")
	}
}

func (h *harness) bootstrapPending() bool {
	return h.session.bsServer != nil && h.session.bsServer.status == StatusBSPending
}

func TestBootstrapTimeout(t *testing.T) {
	h := newHarness(t, bootstrapConfigFn)
	if err := h.session.Register(time.Hour); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	req := h.expect()
	h.server.ack(req, coap.Message{Code: codes.Changed})
	h.stepUntil("bootstrap pending", h.bootstrapPending)

	h.clock.Advance(DefaultBootstrapTimeout - time.Second)
	h.session.Step(time.Second)
	if h.session.State() != StateBootstrapping {
		t.Fatalf("State() = %v before the timeout, want %v", h.session.State(), StateBootstrapping)
	}

	h.clock.Advance(time.Second)
	h.stepUntil("Initial", func() bool { return h.session.State() == StateInitial })
	if n := h.session.txMgr.Count(); n != 0 {
		t.Errorf("pending transactions = %d, want 0", n)
	}
	h.waitEvent(EventBootstrapFailed)
}

func TestBootstrapLateAcknowledgement(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		bootstrapConfigFn(c)
		c.BootstrapTimeout = 10 * time.Second
	})
	if err := h.session.Register(time.Hour); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	req := h.expect()

	// The server answers /bs just before the timeout would have run out
	// had it counted from the start of the bootstrap.
	h.clock.Advance(9 * time.Second)
	h.server.ack(req, coap.Message{Code: codes.Changed})
	h.stepUntil("bootstrap pending", h.bootstrapPending)
	h.drain()

	h.clock.Advance(2 * time.Second)
	for range 3 {
		h.session.Step(time.Second)
	}
	if h.session.State() != StateBootstrapping || !h.bootstrapPending() {
		t.Fatalf("State() = %v, want %v with the write window open", h.session.State(), StateBootstrapping)
	}

	h.server.request(coap.Message{Code: codes.PUT, URIPath: []string{"0", "1", "0"}, Payload: []byte("coap://lwm2m.example:5690")})
	if resp := h.expect(); resp.Code != codes.Changed {
		t.Fatalf("PUT Code = %v, want %v", resp.Code, codes.Changed)
	}
	h.server.request(coap.Message{Code: codes.POST, URIPath: []string{"bs"}})
	if resp := h.expect(); resp.Code != codes.Changed {
		t.Fatalf("bootstrap finish: Code = %v, want %v", resp.Code, codes.Changed)
	}
	h.waitEvent(EventBootstrapSuccess)
	if h.events.has(EventBootstrapFailed) {
		t.Error("unexpected BootstrapFailed")
	}
}

func TestBootstrapRejected(t *testing.T) {
	h := newHarness(t, bootstrapConfigFn)
	if err := h.session.Register(time.Hour); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	req := h.expect()
	h.server.ack(req, coap.Message{Code: codes.BadRequest})
	h.waitEvent(EventBootstrapFailed)
}

func TestStoredServerSkipsBootstrap(t *testing.T) {
	storage := NewMemoryStorage()
	if err := storage.Save(&StoredServer{ServerHost: "stored.example", ServerPort: 5690}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	h := newHarness(t, func(c *Config) {
		bootstrapConfigFn(c)
		c.Storage = storage
	})
	if err := h.session.Register(time.Hour); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	h.session.Step(time.Second)
	if h.session.State() != StateConnecting {
		t.Fatalf("State() = %v, want %v", h.session.State(), StateConnecting)
	}
	if h.session.serverHost != "stored.example" || h.session.serverPort != 5690 {
		t.Errorf("server = %s:%d, want stored.example:5690", h.session.serverHost, h.session.serverPort)
	}
}

// failingFactory refuses to open sockets.
type failingFactory struct{}

var errNoSockets = errors.New("no sockets")

func (failingFactory) CreateUDPConn(int) (net.PacketConn, error) {
	return nil, errNoSockets
}

func (failingFactory) ResolveAddr(string, int) (net.Addr, error) {
	return transport.PipeAddr{ID: 1}, nil
}

func TestConnectFailureForgetsStoredServer(t *testing.T) {
	storage := NewMemoryStorage()
	if err := storage.Save(&StoredServer{ServerHost: "stored.example", ServerPort: 5683}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	h := newHarness(t, func(c *Config) {
		bootstrapConfigFn(c)
		c.Storage = storage
		c.Factory = failingFactory{}
	})
	if err := h.session.Register(time.Hour); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	h.session.Step(time.Second)
	h.session.Step(time.Second)
	if h.session.State() != StateInitial {
		t.Fatalf("State() = %v, want %v", h.session.State(), StateInitial)
	}
	h.waitEvent(EventConnectFailed)

	stored, err := storage.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if stored != nil {
		t.Errorf("stored = %+v, want nil", stored)
	}
	if !h.session.bootstrapEnabled {
		t.Error("bootstrap not re-enabled")
	}
}

func TestBootstrapConfigServerURI(t *testing.T) {
	tests := []struct {
		name      string
		uris      map[uri.ID]string
		bootstrap map[uri.ID]bool
		want      string
		wantOK    bool
	}{
		{name: "empty"},
		{
			name:   "lowest instance",
			uris:   map[uri.ID]string{3: "coap://c", 1: "coap://b"},
			want:   "coap://b",
			wantOK: true,
		},
		{
			name:      "skips bootstrap server",
			uris:      map[uri.ID]string{0: "coap://bs", 1: "coap://dm"},
			bootstrap: map[uri.ID]bool{0: true},
			want:      "coap://dm",
			wantOK:    true,
		},
		{
			name:      "only bootstrap server",
			uris:      map[uri.ID]string{0: "coap://bs"},
			bootstrap: map[uri.ID]bool{0: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newBootstrapConfig()
			for k, v := range tt.uris {
				c.uris[k] = v
			}
			for k, v := range tt.bootstrap {
				c.bootstrap[k] = v
			}
			got, ok := c.serverURI()
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("serverURI() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
