package lwm2m

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/lwm2m/pkg/block"
	"github.com/backkem/lwm2m/pkg/transaction"
	"github.com/backkem/lwm2m/pkg/uri"
)

// MaxSleep caps the wait Run takes between steps.
const MaxSleep = time.Minute

// Session is one LWM2M client session: the lifecycle state machine driving
// bootstrap, connection, registration and the steady-state request traffic
// with one server.
//
// The host drives a Session by calling Step repeatedly (or Run, which does
// that). Protocol state is owned by the step worker. Response, Notify and
// DiscoverResponse may be called from any goroutine.
type Session struct {
	config Config
	log    logging.LeveledLogger

	// mu serializes Step with the control API.
	mu               sync.Mutex
	state            State
	stateSince       time.Time
	registerEnabled  bool
	bootstrapEnabled bool
	lifetime         time.Duration
	closed           bool

	server   *server
	bsServer *server

	// Address of the operational server, from config, storage or bootstrap.
	serverHost      string
	serverPort      int
	hostFromStorage bool
	bsConfig        *bootstrapConfig

	lastConnectAttempt  time.Time
	lastRegisterAttempt time.Time
	unregisterSent      bool

	nextMID  uint16
	txMgr    *transaction.Manager
	blocks   *block.Reassembler
	dedup    *responseCache
	partials map[partialKey]*partial

	registry *registry

	// notifyMu guards the response/notify queue and the observations.
	notifyMu     sync.Mutex
	queue        []*queueItem
	nextNotifyID uint32
	observations map[uint16]*observation

	// reqMu guards the requests awaiting a response.
	reqMu    sync.Mutex
	requests map[uint16]*pendingRequest

	netMu     sync.Mutex
	netEvents []netEvent

	stateVal atomic.Int32
	done     atomic.Bool
	dispatch *dispatcher
	wake     chan struct{}
}

// New creates a session in StateInitial. The session does nothing until
// Register is called.
func New(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	s := &Session{
		config:           config,
		state:            StateInitial,
		bootstrapEnabled: config.Bootstrap,
		serverHost:       config.ServerHost,
		serverPort:       config.ServerPort,
		blocks:           block.NewReassembler(config.MaxBlock1Size),
		dedup:            newResponseCache(defaultResponseCacheSize),
		partials:         make(map[partialKey]*partial),
		registry:         newRegistry(),
		observations:     make(map[uint16]*observation),
		requests:         make(map[uint16]*pendingRequest),
		wake:             make(chan struct{}, 1),
	}
	s.stateVal.Store(int32(StateInitial))

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("lwm2m")
	}

	var seed [2]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	s.nextMID = binary.BigEndian.Uint16(seed[:])

	s.txMgr = transaction.NewManager(transaction.ManagerConfig{
		Params:        config.Transaction,
		AltPath:       config.AltPath,
		Now:           config.Now,
		Metrics:       config.Metrics,
		LoggerFactory: config.LoggerFactory,
	})

	if err := s.loadState(); err != nil {
		return nil, err
	}

	s.dispatch = newDispatcher()
	return s, nil
}

// loadState restores a persisted server address. A stored address skips
// bootstrap.
func (s *Session) loadState() error {
	stored, err := s.config.Storage.Load()
	if err != nil {
		return fmt.Errorf("lwm2m: load state: %w", err)
	}
	if stored == nil || stored.ServerHost == "" {
		return nil
	}
	s.serverHost = stored.ServerHost
	s.serverPort = stored.ServerPort
	if s.serverPort == 0 {
		s.serverPort = s.config.ServerPort
	}
	s.hostFromStorage = true
	s.bootstrapEnabled = false
	if s.log != nil {
		s.log.Infof("restored server %s:%d", s.serverHost, s.serverPort)
	}
	return nil
}

// EndpointName returns the client endpoint name.
func (s *Session) EndpointName() string {
	return s.config.EndpointName
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.stateVal.Load())
}

// AddObject exposes an object. Objects added after registration are
// announced with the next update.
func (s *Session) AddObject(o *Object) error {
	return s.registry.add(o)
}

// RemoveObject removes an object by id.
func (s *Session) RemoveObject(id uri.ID) error {
	return s.registry.remove(id)
}

// Register enables registration with the given lifetime. The state machine
// connects (bootstrapping first if configured) and registers on the
// following steps.
func (s *Session) Register(lifetime time.Duration) error {
	if lifetime < LifetimeMin || lifetime > LifetimeMax {
		return ErrInvalidLifetime
	}
	if s.config.OnEvent == nil {
		return ErrMissingCallback
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.registerEnabled {
		return ErrInvalidState
	}
	s.lifetime = lifetime
	s.registerEnabled = true
	s.Wake()
	return nil
}

// Unregister starts deregistration. EventUnregisterDone reports completion,
// after which Deinit is allowed.
func (s *Session) Unregister() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.registerEnabled {
		return ErrInvalidState
	}
	if s.state != StateUnregister {
		s.unregisterSent = false
		s.setState(StateUnregister, s.config.Now())
	}
	s.Wake()
	return nil
}

// UpdateRegistration sends a registration update. A zero lifetime keeps the
// current one; withObjects includes the object links.
func (s *Session) UpdateRegistration(lifetime time.Duration, withObjects bool) error {
	if lifetime != 0 && (lifetime < LifetimeMin || lifetime > LifetimeMax) {
		return ErrInvalidLifetime
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != StateReady || s.server == nil || s.server.reg != RegRegistered {
		return ErrInvalidState
	}
	if lifetime != 0 {
		s.lifetime = lifetime
	}
	if err := s.sendUpdate(s.config.Now(), withObjects); err != nil {
		return err
	}
	s.Wake()
	return nil
}

// Deinit tears the session down. It fails with ErrPending while registration
// is enabled; call Unregister and wait for EventUnregisterDone first.
func (s *Session) Deinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.registerEnabled {
		return ErrPending
	}
	s.teardown()
	s.closed = true
	s.done.Store(true)
	s.dispatch.close()
	if s.log != nil {
		s.log.Infof("session %s closed", s.config.EndpointName)
	}
	return nil
}

// Wake makes a waiting Run loop step again. It never blocks.
func (s *Session) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run steps the session until ctx is done or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	timer := time.NewTimer(MaxSleep)
	defer timer.Stop()

	for {
		result, timeout := s.Step(MaxSleep)
		if s.isClosed() {
			return ErrClosed
		}

		switch result {
		case StepRunAgain:
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

		case StepSleep:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			case <-timer.C:
			}

		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}
		}
	}
}

func (s *Session) isClosed() bool {
	return s.done.Load()
}

// setState moves the state machine and reports the change.
func (s *Session) setState(state State, now time.Time) {
	if s.state == state {
		return
	}
	if s.log != nil {
		s.log.Debugf("state %s -> %s", s.state, state)
	}
	s.state = state
	s.stateSince = now
	s.stateVal.Store(int32(state))
	s.config.Metrics.StateChanged(state.String())
	s.emit(EventStatus, state)
}

// emit hands an event to the dispatch worker.
func (s *Session) emit(kind EventKind, param any) {
	s.config.Metrics.EventEmitted(kind.String())
	handler := s.config.OnEvent
	if handler == nil {
		return
	}
	ev := Event{Kind: kind, Param: param}
	s.dispatch.post(func() { handler(ev) })
}

func (s *Session) nextMessageID() uint16 {
	s.nextMID++
	return s.nextMID
}

// teardown drops all server-related state: servers, transactions,
// observations, queued responses, pending requests and block transfers.
func (s *Session) teardown() {
	s.txMgr.RemoveAll()
	s.destroyServer(&s.server)
	s.destroyServer(&s.bsServer)
	s.blocks.ReleaseAll()
	s.dedup.clear()
	clear(s.partials)
	s.unregisterSent = false

	s.notifyMu.Lock()
	s.queue = nil
	clear(s.observations)
	s.notifyMu.Unlock()

	s.reqMu.Lock()
	clear(s.requests)
	s.reqMu.Unlock()

	s.netMu.Lock()
	s.netEvents = nil
	s.netMu.Unlock()
}
