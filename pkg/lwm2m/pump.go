package lwm2m

import "time"

// Step advances the session once and tells the host how to wait.
//
// Each step applies pending transport events, makes at most one lifecycle
// transition, runs the registration lifetime watch, sends queued responses
// and notifications, sweeps the transaction manager and handles at most one
// inbound datagram, in that order. timeout is the host's intended sleep; the
// returned duration is timeout lowered to the nearest internal deadline.
//
// A clock reading at or before the Unix epoch is reported as StepIdle
// without touching any state.
func (s *Session) Step(timeout time.Duration) (StepResult, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return StepIdle, timeout
	}
	now := s.config.Now()
	if now.Unix() <= 0 {
		return StepIdle, timeout
	}
	if !s.registerEnabled && s.state != StateDisconnected {
		return StepIdle, timeout
	}

	prev := s.state
	s.drainNetEvents(now)
	s.transition(now)
	timeout = s.registrationStep(now, timeout)
	if s.state != StateDisconnected {
		// Held back for the teardown on the next step.
		s.drainQueue()
	}
	timeout = s.txMgr.Step(now, timeout)
	inbound := s.readInbound(now)

	if s.state != prev || inbound || s.queueLen() > 0 {
		return StepRunAgain, 0
	}
	return StepSleep, timeout
}

// transition applies the state table once. StateHalt is entered on an
// unknown state and recovers to StateInitial after a full teardown.
func (s *Session) transition(now time.Time) {
	switch s.state {
	case StateHalt:
		s.emit(EventHalt, nil)
		s.teardown()
		s.setState(StateInitial, now)

	case StateInitial:
		s.setState(StateBootstrapping, now)
		if !s.bootstrapEnabled {
			s.setState(StateConnecting, now)
		}

	case StateBootstrapping:
		s.bootstrapStep(now)

	case StateConnecting:
		s.connectStep(now)

	case StateRegisterRequired:
		if s.server == nil || s.server.status != StatusConnected {
			s.setState(StateDisconnected, now)
			return
		}
		if !s.lastRegisterAttempt.IsZero() && now.Sub(s.lastRegisterAttempt) < s.config.RegisterRetryInterval {
			return
		}
		s.lastRegisterAttempt = now
		if err := s.sendRegister(now); err != nil {
			if s.log != nil {
				s.log.Errorf("register: %v", err)
			}
			return
		}
		s.setState(StateRegistering, now)

	case StateRegistering:
		if s.server == nil {
			s.setState(StateDisconnected, now)
			return
		}
		switch s.server.reg {
		case RegRegistered:
			s.saveServer()
			s.setState(StateReady, now)
		case RegFailed:
			s.setState(StateDisconnected, now)
		}

	case StateReady:
		if s.server == nil || s.server.reg == RegFailed {
			s.setState(StateDisconnected, now)
		}

	case StateDisconnected:
		s.teardown()
		if s.registerEnabled {
			s.setState(StateConnecting, now)
		} else {
			s.setState(StateInitial, now)
		}

	case StateUnregister:
		s.unregisterStep(now)

	default:
		if s.log != nil {
			s.log.Errorf("unknown state %d", s.state)
		}
		s.setState(StateHalt, now)
	}
}

// connectStep creates and connects the operational server, retrying no
// faster than ConnectRetryInterval.
func (s *Session) connectStep(now time.Time) {
	if s.server == nil {
		if !s.lastConnectAttempt.IsZero() && now.Sub(s.lastConnectAttempt) < s.config.ConnectRetryInterval {
			return
		}
		s.lastConnectAttempt = now

		srv, err := s.newServer(s.serverHost, s.serverPort, false, now)
		if err != nil {
			if s.log != nil {
				s.log.Errorf("create server %s:%d: %v", s.serverHost, s.serverPort, err)
			}
			s.connectFailed(now)
			return
		}
		s.server = srv
		s.connectServer(srv, now)
	}

	switch s.server.status {
	case StatusConnected:
		if s.config.DTLS && !s.server.secureReady() {
			return
		}
		s.server.reg = RegUnregistered
		s.emit(EventConnectSuccess, s.server.String())
		s.setState(StateRegisterRequired, now)

	case StatusConnectFailed:
		s.connectFailed(now)
	}
}

// connectFailed drops the operational server and starts over. A server
// address restored from storage is forgotten so that bootstrap runs again.
func (s *Session) connectFailed(now time.Time) {
	s.destroyServer(&s.server)
	s.emit(EventConnectFailed, nil)

	if s.hostFromStorage {
		s.hostFromStorage = false
		s.serverHost = s.config.ServerHost
		s.serverPort = s.config.ServerPort
		if err := s.config.Storage.Save(nil); err != nil && s.log != nil {
			s.log.Warnf("clear stored server: %v", err)
		}
		s.bootstrapEnabled = s.config.Bootstrap
	}
	s.setState(StateInitial, now)
}

// saveServer persists the registered server address.
func (s *Session) saveServer() {
	err := s.config.Storage.Save(&StoredServer{
		ServerHost: s.serverHost,
		ServerPort: s.serverPort,
	})
	if err != nil && s.log != nil {
		s.log.Warnf("persist server: %v", err)
	}
}

// unregisterStep sends the deregistration once and completes when it
// retires, or immediately when there is no registration to remove.
func (s *Session) unregisterStep(now time.Time) {
	srv := s.server
	registered := srv != nil && srv.status == StatusConnected &&
		(srv.reg == RegRegistered || srv.reg == RegUpdatePending)

	if !s.unregisterSent {
		if registered {
			err := s.sendDeregister(now)
			if err == nil {
				s.unregisterSent = true
				return
			}
			if s.log != nil {
				s.log.Warnf("deregister: %v", err)
			}
		}
		s.unregisterDone(now)
		return
	}

	if srv == nil || srv.status != StatusConnected {
		s.unregisterDone(now)
	}
}

func (s *Session) unregisterDone(now time.Time) {
	if s.server != nil {
		s.server.reg = RegDeregistered
	}
	s.unregisterSent = false
	s.registerEnabled = false
	s.emit(EventUnregisterDone, nil)
	s.setState(StateDisconnected, now)
}

// readInbound handles one queued datagram from the active server and
// reports whether more are waiting.
func (s *Session) readInbound(now time.Time) bool {
	srv := s.server
	if s.state == StateBootstrapping {
		srv = s.bsServer
	}
	if srv == nil || srv.conn == nil {
		return false
	}
	data, ok := srv.conn.Read()
	if !ok {
		return false
	}
	s.handleDatagram(srv, data, now)

	// The datagram may have torn the server down.
	if srv != s.server && srv != s.bsServer {
		return true
	}
	return srv.conn.Pending() > 0
}
