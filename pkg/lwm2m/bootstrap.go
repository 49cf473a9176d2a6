package lwm2m

import (
	"slices"
	"strings"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"github.com/backkem/lwm2m/pkg/coap"
	"github.com/backkem/lwm2m/pkg/transaction"
	"github.com/backkem/lwm2m/pkg/uri"
)

// Security object (0) resources written during bootstrap.
const (
	securityObjectID    uri.ID = 0
	securityServerURI   uri.ID = 0
	securityIsBootstrap uri.ID = 1
)

// bootstrapConfig collects the security instances written by the bootstrap
// server.
type bootstrapConfig struct {
	uris      map[uri.ID]string
	bootstrap map[uri.ID]bool
}

func newBootstrapConfig() *bootstrapConfig {
	return &bootstrapConfig{
		uris:      make(map[uri.ID]string),
		bootstrap: make(map[uri.ID]bool),
	}
}

// serverURI returns the URI of the lowest security instance that is not a
// bootstrap server.
func (c *bootstrapConfig) serverURI() (string, bool) {
	ids := make([]uri.ID, 0, len(c.uris))
	for id := range c.uris {
		if !c.bootstrap[id] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	slices.Sort(ids)
	return c.uris[ids[0]], true
}

// bootstrapStep drives the bootstrap server through connect, request,
// pending and finish. Without bootstrap it moves straight to connecting.
func (s *Session) bootstrapStep(now time.Time) {
	if !s.bootstrapEnabled {
		s.setState(StateConnecting, now)
		return
	}

	if s.bsServer == nil {
		if !s.lastConnectAttempt.IsZero() && now.Sub(s.lastConnectAttempt) < s.config.ConnectRetryInterval {
			return
		}
		s.lastConnectAttempt = now

		srv, err := s.newServer(s.config.BootstrapHost, s.config.BootstrapPort, true, now)
		if err != nil {
			if s.log != nil {
				s.log.Errorf("create bootstrap server: %v", err)
			}
			s.emit(EventBootstrapFailed, nil)
			s.setState(StateInitial, now)
			return
		}
		s.bsServer = srv
		s.bsConfig = newBootstrapConfig()
		s.emit(EventBootstrapStart, srv.String())
		s.connectServer(srv, now)
	}

	srv := s.bsServer
	switch srv.status {
	case StatusBSFinished:
		if s.applyBootstrapConfig() {
			s.txMgr.RemoveAll()
			s.destroyServer(&s.bsServer)
			s.emit(EventBootstrapSuccess, s.serverHost)
			s.setState(StateConnecting, now)
			return
		}
		if s.log != nil {
			s.log.Warnf("bootstrap finished without a server URI")
		}
		srv.setStatus(StatusBSFailed, now)
		s.bootstrapFailed(now)
		return

	case StatusBSFailed, StatusConnectFailed:
		s.bootstrapFailed(now)
		return
	}

	// The server's write window opens with the 2.04 to /bs.
	if srv.status == StatusBSPending && now.Sub(srv.statusSince) >= s.config.BootstrapTimeout {
		if s.log != nil {
			s.log.Warnf("bootstrap timed out after %v pending", now.Sub(srv.statusSince))
		}
		srv.setStatus(StatusBSFailed, now)
		return
	}

	if srv.status == StatusConnected {
		if s.config.DTLS && !srv.secureReady() {
			return
		}
		if err := s.sendBootstrapRequest(srv, now); err != nil {
			if s.log != nil {
				s.log.Errorf("bootstrap request: %v", err)
			}
			srv.setStatus(StatusBSFailed, now)
		}
	}
}

func (s *Session) bootstrapFailed(now time.Time) {
	s.txMgr.RemoveAll()
	s.destroyServer(&s.bsServer)
	s.bsConfig = nil
	s.emit(EventBootstrapFailed, nil)
	s.setState(StateInitial, now)
}

// applyBootstrapConfig takes the operational server address from the
// bootstrap writes, falling back to a configured server.
func (s *Session) applyBootstrapConfig() bool {
	if s.bsConfig != nil {
		if raw, ok := s.bsConfig.serverURI(); ok {
			host, port, err := parseServerURI(raw)
			if err == nil {
				s.serverHost = host
				s.serverPort = port
				return true
			}
			if s.log != nil {
				s.log.Warnf("bootstrap server URI %q: %v", raw, err)
			}
		}
	}
	return s.serverHost != ""
}

// sendBootstrapRequest posts /bs?ep=<name>.
func (s *Session) sendBootstrapRequest(srv *server, now time.Time) error {
	msg := &coap.Message{
		Code:     codes.POST,
		URIPath:  []string{uri.BootstrapSegment},
		URIQuery: []string{"ep=" + s.config.EndpointName},
	}
	srv.setStatus(StatusBSInitiated, now)
	return s.request(srv, msg, now, func(_ *transaction.Transaction, resp *coap.Message) {
		if srv != s.bsServer || srv.status != StatusBSInitiated {
			return
		}
		if resp != nil && resp.Code == codes.Changed {
			srv.setStatus(StatusBSPending, s.config.Now())
			return
		}
		if s.log != nil {
			s.log.Warnf("bootstrap request failed: %s", responseCode(resp))
		}
		srv.setStatus(StatusBSFailed, s.config.Now())
	})
}

// handleBootstrapRequest serves requests from the bootstrap server. It
// reports false for requests that take the regular dispatch path.
func (s *Session) handleBootstrapRequest(srv *server, msg *coap.Message, target uri.URI, now time.Time) bool {
	switch msg.Code {
	case codes.POST:
		if target.IsBootstrap() {
			s.reply(srv, msg, codes.Changed)
			if srv.status == StatusBSInitiated || srv.status == StatusBSPending {
				srv.setStatus(StatusBSFinished, now)
			}
			return true
		}
		return s.bootstrapWrite(srv, msg, target)

	case codes.PUT:
		return s.bootstrapWrite(srv, msg, target)

	case codes.DELETE:
		if target.IsDeleteAll() || target.ObjectID == securityObjectID {
			s.bsConfig = newBootstrapConfig()
		}
		s.reply(srv, msg, codes.Deleted)
		return true
	}
	return false
}

// bootstrapWrite records security object writes. Writes to registered
// objects are dispatched to their handler; others are accepted.
func (s *Session) bootstrapWrite(srv *server, msg *coap.Message, target uri.URI) bool {
	if target.HasObject() && target.ObjectID == securityObjectID && target.HasResource() {
		value := strings.TrimSpace(string(msg.Payload))
		switch target.ResourceID {
		case securityServerURI:
			if _, _, err := parseServerURI(value); err != nil {
				s.reply(srv, msg, codes.BadRequest)
				return true
			}
			s.bsConfig.uris[target.InstanceID] = value
		case securityIsBootstrap:
			s.bsConfig.bootstrap[target.InstanceID] = value == "1" || strings.EqualFold(value, "true")
		}
	}

	if target.HasObject() && s.registry.get(target.ObjectID) != nil {
		return false
	}
	s.reply(srv, msg, codes.Changed)
	return true
}
