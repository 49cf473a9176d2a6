package lwm2m

import (
	"strconv"
	"strings"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"github.com/backkem/lwm2m/pkg/coap"
	"github.com/backkem/lwm2m/pkg/transaction"
)

// Registration interface constants.
const (
	lwm2mVersion = "1.0"
	bindingMode  = "U"
	tokenLength  = 8
)

// request sends a confirmable request to srv through the transaction
// manager. cb runs on the step worker when the transaction retires.
func (s *Session) request(srv *server, msg *coap.Message, now time.Time, cb transaction.Callback) error {
	msg.Type = coap.Confirmable
	msg.MessageID = s.nextMessageID()
	msg.Token = transaction.GenerateToken(msg.MessageID, now, tokenLength)

	t, err := s.txMgr.NewFromMessage(msg)
	if err != nil {
		return err
	}
	t.Peer = srv
	t.Callback = cb
	s.txMgr.Send(t)
	return nil
}

// sendRegister posts the registration to /rd.
func (s *Session) sendRegister(now time.Time) error {
	srv := s.server
	query := []string{
		"ep=" + s.config.EndpointName,
		"lt=" + strconv.FormatInt(int64(s.lifetime/time.Second), 10),
		"lwm2m=" + lwm2mVersion,
		"b=" + bindingMode,
	}
	if s.config.AuthCode != "" {
		query = append(query, "ac="+s.config.AuthCode)
	}

	msg := &coap.Message{
		Code:     codes.POST,
		URIPath:  []string{"rd"},
		URIQuery: query,
		Payload:  []byte(s.registry.linkFormat()),
	}
	msg.SetContentFormat(coap.AppLinkFormat)

	srv.reg = RegPending
	lifetime := s.lifetime
	if s.log != nil {
		s.log.Infof("registering %s with %s (lifetime %s)", s.config.EndpointName, srv, lifetime)
	}
	return s.request(srv, msg, now, func(_ *transaction.Transaction, resp *coap.Message) {
		if srv != s.server {
			return
		}
		if resp == nil || resp.Code != codes.Created || len(resp.LocationPath) == 0 {
			if s.log != nil {
				s.log.Warnf("registration failed: %s", responseCode(resp))
			}
			srv.reg = RegFailed
			s.emit(EventRegistrationFailed, nil)
			return
		}
		srv.location = append([]string(nil), resp.LocationPath...)
		srv.lifetime = lifetime
		srv.registeredAt = s.config.Now()
		srv.updateNotified = false
		srv.reg = RegRegistered
		s.emit(EventRegistrationSuccess, "/"+strings.Join(srv.location, "/"))
	})
}

// sendUpdate posts a registration update to the registration location.
func (s *Session) sendUpdate(now time.Time, withObjects bool) error {
	srv := s.server
	msg := &coap.Message{
		Code:     codes.POST,
		URIPath:  append([]string(nil), srv.location...),
		URIQuery: []string{"lt=" + strconv.FormatInt(int64(s.lifetime/time.Second), 10)},
	}
	if withObjects {
		msg.Payload = []byte(s.registry.linkFormat())
		msg.SetContentFormat(coap.AppLinkFormat)
	}

	srv.reg = RegUpdatePending
	lifetime := s.lifetime
	return s.request(srv, msg, now, func(_ *transaction.Transaction, resp *coap.Message) {
		if srv != s.server {
			return
		}
		switch {
		case resp == nil:
			srv.reg = RegFailed
			s.emit(EventUpdateTimeout, nil)
		case resp.Code == codes.Changed:
			srv.lifetime = lifetime
			srv.registeredAt = s.config.Now()
			srv.updateNotified = false
			srv.reg = RegRegistered
			s.emit(EventUpdateSuccess, nil)
		default:
			if s.log != nil {
				s.log.Warnf("update rejected: %s", resp.Code)
			}
			srv.reg = RegFailed
			s.emit(EventUpdateFailed, nil)
		}
	})
}

// sendDeregister deletes the registration. Any outcome completes the
// unregister.
func (s *Session) sendDeregister(now time.Time) error {
	srv := s.server
	msg := &coap.Message{
		Code:    codes.DELETE,
		URIPath: append([]string(nil), srv.location...),
	}
	srv.reg = RegDeregistering
	return s.request(srv, msg, now, func(_ *transaction.Transaction, resp *coap.Message) {
		if srv != s.server || s.state != StateUnregister {
			return
		}
		if resp != nil && resp.Code != codes.Deleted && s.log != nil {
			s.log.Warnf("deregister answered %s", resp.Code)
		}
		s.unregisterDone(s.config.Now())
	})
}

// registrationStep watches the registration lifetime. It returns timeout
// lowered to the next lifetime deadline.
func (s *Session) registrationStep(now time.Time, timeout time.Duration) time.Duration {
	srv := s.server
	if s.state != StateReady || srv == nil || srv.reg != RegRegistered {
		return timeout
	}

	remaining := srv.expiresAt().Sub(now)
	if remaining <= 0 {
		if s.log != nil {
			s.log.Warnf("registration with %s expired", srv)
		}
		srv.reg = RegFailed
		s.emit(EventRegistrationTimeout, nil)
		return timeout
	}

	if remaining <= s.config.UpdateMargin {
		if !srv.updateNotified {
			srv.updateNotified = true
			s.emit(EventUpdateNeeded, remaining)
			if s.config.AutoUpdate {
				if err := s.sendUpdate(now, false); err != nil && s.log != nil {
					s.log.Warnf("auto update: %v", err)
				}
				return timeout
			}
		}
		if remaining < timeout {
			timeout = remaining
		}
		return timeout
	}

	if wait := remaining - s.config.UpdateMargin; wait < timeout {
		timeout = wait
	}
	return timeout
}

func responseCode(resp *coap.Message) string {
	if resp == nil {
		return "no response"
	}
	return resp.Code.String()
}
