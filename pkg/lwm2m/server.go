package lwm2m

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/backkem/lwm2m/pkg/securechannel"
	"github.com/backkem/lwm2m/pkg/transaction"
	"github.com/backkem/lwm2m/pkg/transport"
)

// server is one peer of the session: the bootstrap server or the
// operational server. It is owned by the step worker.
type server struct {
	host      string
	port      int
	bootstrap bool

	conn        *transport.Conn
	secure      *securechannel.Provider
	status      ServerStatus
	statusSince time.Time

	// Registration, operational server only.
	reg            RegStatus
	location       []string
	lifetime       time.Duration
	registeredAt   time.Time
	updateNotified bool
}

// Send writes one datagram to the server.
func (s *server) Send(data []byte) error {
	if s.conn == nil {
		return transport.ErrNotConnected
	}
	return s.conn.Write(data)
}

func (s *server) setStatus(status ServerStatus, now time.Time) {
	s.status = status
	s.statusSince = now
}

// secureReady reports whether the server can carry traffic: connected, and
// with a finished handshake when DTLS is enabled.
func (s *server) secureReady() bool {
	return s.conn != nil && s.conn.SecureReady()
}

// expiresAt returns the end of the current registration lifetime.
func (s *server) expiresAt() time.Time {
	return s.registeredAt.Add(s.lifetime)
}

func (s *server) String() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

var _ transaction.Peer = (*server)(nil)

// netEvent is a transport event waiting for the step worker.
type netEvent struct {
	srv *server
	ev  transport.Event
	err error
}

// newServer creates the server record and its transport session.
func (s *Session) newServer(host string, port int, bootstrap bool, now time.Time) (*server, error) {
	srv := &server{host: host, port: port, bootstrap: bootstrap}
	srv.setStatus(StatusCreated, now)

	var securer transport.Securer
	if s.config.DTLS {
		provider, err := securechannel.NewProvider(securechannel.Config{
			Identity: []byte(s.config.PSKIdentity),
			Key:      s.config.PSK,
			Callbacks: securechannel.Callbacks{
				OnEstablished: s.Wake,
				OnError: func(err error) {
					s.pushNetEvent(netEvent{srv: srv, ev: transport.EventDisconnected, err: err})
				},
			},
			LoggerFactory: s.config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		srv.secure = provider
		securer = provider
	}

	conn, err := transport.NewConn(transport.ConnConfig{
		Host:      host,
		Port:      port,
		LocalPort: s.config.LocalPort,
		Factory:   s.config.Factory,
		Securer:   securer,
		OnEvent: func(_ *transport.Conn, ev transport.Event, err error) {
			s.pushNetEvent(netEvent{srv: srv, ev: ev, err: err})
		},
		OnReceive:     s.Wake,
		LoggerFactory: s.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	srv.conn = conn

	if srv.secure != nil {
		s.txMgr.SetSecureChannel(srv.secure)
	}
	return srv, nil
}

// connectServer starts the transport. A synchronous failure marks the server
// failed; success is confirmed by the queued EventConnected.
func (s *Session) connectServer(srv *server, now time.Time) {
	srv.setStatus(StatusConnectPending, now)
	if err := srv.conn.Connect(); err != nil {
		if s.log != nil {
			s.log.Warnf("connect to %s failed: %v", srv, err)
		}
		srv.setStatus(StatusConnectFailed, now)
	}
}

// destroyServer closes the server's transport and clears *ref.
func (s *Session) destroyServer(ref **server) {
	srv := *ref
	if srv == nil {
		return
	}
	*ref = nil
	if srv.secure != nil {
		s.txMgr.SetSecureChannel(nil)
	}
	if srv.conn != nil {
		if err := srv.conn.Close(); err != nil && s.log != nil {
			s.log.Debugf("close %s: %v", srv, err)
		}
	}
}

func (s *Session) pushNetEvent(ev netEvent) {
	s.netMu.Lock()
	s.netEvents = append(s.netEvents, ev)
	s.netMu.Unlock()
	s.Wake()
}

// drainNetEvents applies queued transport events to the current servers.
// Events of servers destroyed in the meantime are ignored.
func (s *Session) drainNetEvents(now time.Time) {
	s.netMu.Lock()
	events := s.netEvents
	s.netEvents = nil
	s.netMu.Unlock()

	for _, ne := range events {
		srv := ne.srv
		if srv != s.server && srv != s.bsServer {
			continue
		}
		switch ne.ev {
		case transport.EventConnected:
			if srv.status == StatusConnectPending {
				srv.setStatus(StatusConnected, now)
			}
			s.emit(EventConnected, srv.String())

		case transport.EventDisconnected:
			if s.log != nil {
				s.log.Warnf("lost connection to %s: %v", srv, ne.err)
			}
			s.emit(EventDisconnected, srv.String())
			if srv.bootstrap {
				if srv.status != StatusBSFinished {
					srv.setStatus(StatusBSFailed, now)
				}
				continue
			}
			srv.setStatus(StatusConnectFailed, now)
			switch srv.reg {
			case RegPending, RegRegistered, RegUpdatePending:
				srv.reg = RegFailed
			}
		}
	}
}

// parseServerURI splits "coap://host:port" or "coaps://host:port". A missing
// port selects the scheme's default.
func parseServerURI(s string) (host string, port int, err error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", 0, ErrInvalidServerURI
	}

	defaultPort := 0
	switch u.Scheme {
	case "coap":
		defaultPort = transport.DefaultPort
	case "coaps":
		defaultPort = transport.DefaultSecurePort
	default:
		return "", 0, ErrInvalidServerURI
	}

	host = u.Hostname()
	if host == "" {
		return "", 0, ErrInvalidServerURI
	}
	port = defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, ErrInvalidServerURI
		}
	}
	return host, port, nil
}
