package securechannel

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/dtls/v3"

	"github.com/backkem/lwm2m/pkg/transport"
)

var (
	testIdentity = []byte("urn:uuid:client-1")
	testKey      = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
)

// startEchoServer runs a DTLS-PSK server on loopback that echoes records.
func startEchoServer(t *testing.T) *net.UDPAddr {
	t.Helper()

	ln, err := dtls.Listen("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, &dtls.Config{
		PSK: func(identity []byte) ([]byte, error) {
			if !bytes.Equal(identity, testIdentity) {
				return nil, errors.New("unknown identity")
			}
			return testKey, nil
		},
		CipherSuites: []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_CCM_8},
	})
	if err != nil {
		t.Fatalf("dtls.Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				if dc, ok := c.(*dtls.Conn); ok {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					err := dc.HandshakeContext(ctx)
					cancel()
					if err != nil {
						return
					}
				}
				buf := make([]byte, 1024)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(c)
		}
	}()

	return ln.Addr().(*net.UDPAddr)
}

func waitState(t *testing.T, ch *Channel, want HandshakeState) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if ch.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", ch.State(), want)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{"valid", Config{Identity: testIdentity, Key: testKey}, nil},
		{"missing identity", Config{Key: testKey}, ErrMissingIdentity},
		{"missing key", Config{Identity: testIdentity}, ErrMissingKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{Identity: testIdentity, Key: testKey}
	c.applyDefaults()
	if c.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("HandshakeTimeout = %v, want %v", c.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if len(c.CipherSuites) != 1 || c.CipherSuites[0] != dtls.TLS_PSK_WITH_AES_128_CCM_8 {
		t.Errorf("CipherSuites = %v, want [TLS_PSK_WITH_AES_128_CCM_8]", c.CipherSuites)
	}
}

func TestChannelHandshakeAndEcho(t *testing.T) {
	addr := startEchoServer(t)

	var established atomic.Bool
	p, err := NewProvider(Config{
		Identity:  testIdentity,
		Key:       testKey,
		Callbacks: Callbacks{OnEstablished: func() { established.Store(true) }},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	dc, err := p.Client(pc, addr)
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	defer dc.Close()

	ch := p.Current()
	if ch == nil {
		t.Fatal("Current() = nil after Client")
	}
	waitState(t, ch, HandshakeEstablished)
	if !established.Load() {
		t.Error("OnEstablished not called")
	}

	if _, err := dc.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 64)
	n, err := dc.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Read() = %q, want %q", buf[:n], "hello")
	}
}

func TestChannelOverTransportConn(t *testing.T) {
	addr := startEchoServer(t)

	p, err := NewProvider(Config{Identity: testIdentity, Key: testKey})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	received := make(chan struct{}, 1)
	c, err := transport.NewConn(transport.ConnConfig{
		Host:      "127.0.0.1",
		Port:      addr.Port,
		Securer:   p,
		Factory:   transport.NetFactory{Network: "udp4"},
		OnReceive: func() { received <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitState(t, p.Current(), HandshakeEstablished)
	if !c.SecureReady() {
		t.Fatal("SecureReady() = false after handshake")
	}

	if err := c.Write([]byte{0x40, 0x01, 0x00, 0x01}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("no datagram received")
	}
	data, ok := c.Read()
	if !ok || !bytes.Equal(data, []byte{0x40, 0x01, 0x00, 0x01}) {
		t.Errorf("Read() = %x, %v", data, ok)
	}
}

func TestChannelWriteBeforeHandshake(t *testing.T) {
	// A plain UDP socket never answers the ClientHello.
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer silent.Close()

	var failed atomic.Value
	p, _ := NewProvider(Config{
		Identity:  testIdentity,
		Key:       testKey,
		Callbacks: Callbacks{OnError: func(err error) { failed.Store(err) }},
	})
	pc, _ := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	dc, err := p.Client(pc, silent.LocalAddr())
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	defer dc.Close()

	if _, err := dc.Write([]byte{1}); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("Write() error = %v, want %v", err, ErrNotEstablished)
	}

	ch := p.Current()
	if ch.State() != HandshakeInProgress {
		t.Fatalf("State() = %v, want %v", ch.State(), HandshakeInProgress)
	}

	// Not yet expired.
	p.CheckRetransmit(time.Now())
	if ch.State() != HandshakeInProgress {
		t.Fatalf("State() = %v after early check, want %v", ch.State(), HandshakeInProgress)
	}

	p.CheckRetransmit(time.Now().Add(DefaultHandshakeTimeout))
	if ch.State() != HandshakeFailed {
		t.Fatalf("State() = %v, want %v", ch.State(), HandshakeFailed)
	}
	if !errors.Is(ch.Err(), ErrHandshakeTimeout) {
		t.Errorf("Err() = %v, want %v", ch.Err(), ErrHandshakeTimeout)
	}
	if got, _ := failed.Load().(error); !errors.Is(got, ErrHandshakeTimeout) {
		t.Errorf("OnError got %v, want %v", got, ErrHandshakeTimeout)
	}
	if _, err := dc.Read(make([]byte, 8)); !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("Read() error = %v, want %v", err, ErrHandshakeTimeout)
	}
}

func TestHandshakeStateString(t *testing.T) {
	tests := []struct {
		state HandshakeState
		want  string
	}{
		{HandshakeIdle, "Idle"},
		{HandshakeInProgress, "InProgress"},
		{HandshakeEstablished, "Established"},
		{HandshakeFailed, "Failed"},
		{HandshakeState(9), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
