// Package session owns the lifecycle of streaming connections: handshake,
// keep-alive, command concurrency, and teardown.
//
// Each session walks Connecting → Open → Draining → Closed. While Open,
// inbound commands are processed by a bounded per-session worker pool and
// responses are emitted on the session's outbound channel in completion
// order, not arrival order: a slow early command may be overtaken by a fast
// later one. Draining stops intake, lets in-flight commands finish up to a
// grace deadline, then cancels the stragglers. Closed ids are never reused.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a session lifecycle state.
type State uint8

const (
	Connecting State = iota
	Open
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session errors.
var (
	ErrNotAccepting = errors.New("session is not accepting commands")
	ErrTooMany      = errors.New("session limit reached")
)

// EventType tags an outbound session event.
type EventType string

const (
	// EventSession announces the session id; always the first event.
	EventSession EventType = "session"
	// EventResponse carries an encoded JSON-RPC response.
	EventResponse EventType = "response"
	// EventPing is a keep-alive probe; clients answer with an ack.
	EventPing EventType = "ping"
)

// Event is one item on a session's outbound channel.
type Event struct {
	Type    EventType
	Payload []byte
}

// Handler processes one encoded JSON-RPC request. A nil response means the
// request was a notification and produces no outbound event.
type Handler func(ctx context.Context, request []byte) ([]byte, error)

// Config tunes session behaviour.
type Config struct {
	KeepAliveInterval time.Duration // Ping cadence while Open
	MissedPingLimit   int           // Unacked pings before forced Draining
	DrainGrace        time.Duration // Time in-flight commands get to finish
	WorkersPerSession int           // Command concurrency per session
	MaxSessions       int           // Concurrent session cap
	QueueDepth        int           // Buffered commands beyond the workers
	OutboundDepth     int           // Buffered outbound events
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		KeepAliveInterval: 15 * time.Second,
		MissedPingLimit:   2,
		DrainGrace:        10 * time.Second,
		WorkersPerSession: 4,
		MaxSessions:       256,
		QueueDepth:        64,
		OutboundDepth:     64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.MissedPingLimit <= 0 {
		c.MissedPingLimit = d.MissedPingLimit
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = d.DrainGrace
	}
	if c.WorkersPerSession <= 0 {
		c.WorkersPerSession = d.WorkersPerSession
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.OutboundDepth <= 0 {
		c.OutboundDepth = d.OutboundDepth
	}
	return c
}

// Session is one streaming connection.
type Session struct {
	id      string
	handler Handler
	cfg     Config

	mu     sync.Mutex
	state  State
	missed int

	ctx    context.Context
	cancel context.CancelFunc

	commands chan []byte
	events   chan Event

	inFlight  sync.WaitGroup
	emitters  sync.WaitGroup
	closeOnce sync.Once
	onClose   func(*Session)
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the outbound event channel. It is closed when the session
// reaches Closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Submit queues one command for processing. Excess concurrent commands are
// queued, not rejected; a full queue blocks the caller, which is the
// backpressure mechanism. Fails once the session stops accepting.
func (s *Session) Submit(request []byte) error {
	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return ErrNotAccepting
	}
	s.mu.Unlock()

	select {
	case s.commands <- request:
		return nil
	case <-s.ctx.Done():
		return ErrNotAccepting
	}
}

// Ack records a client keep-alive acknowledgment.
func (s *Session) Ack() {
	s.mu.Lock()
	s.missed = 0
	s.mu.Unlock()
}

// Drain moves the session to Draining: intake stops, in-flight commands get
// the grace period, then the session closes. Idempotent.
func (s *Session) Drain(reason string) {
	s.mu.Lock()
	if s.state != Connecting && s.state != Open {
		s.mu.Unlock()
		return
	}
	s.state = Draining
	s.mu.Unlock()

	log.Printf("[SESSION] %s draining: %s", s.id, reason)

	go func() {
		done := make(chan struct{})
		go func() {
			s.inFlight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.DrainGrace):
			// Grace expired: cancel whatever is still running. Mutations
			// already past the durable write are unaffected; only their
			// responses are suppressed.
		}
		s.close()
	}()
}

// close finalizes the session. Safe to call more than once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()

		s.cancel()
		s.inFlight.Wait()
		// Workers and keep-alive all exit on the cancelled context; the
		// events channel must not close while any of them can still emit.
		s.emitters.Wait()
		close(s.events)
		if s.onClose != nil {
			s.onClose(s)
		}
		log.Printf("[SESSION] %s closed", s.id)
	})
}

// open transitions Connecting → Open and starts the workers and keep-alive.
func (s *Session) open() {
	s.mu.Lock()
	s.state = Open
	s.mu.Unlock()

	s.emitters.Add(s.cfg.WorkersPerSession + 1)
	for i := 0; i < s.cfg.WorkersPerSession; i++ {
		go s.worker()
	}
	go s.keepAlive()
}

// worker consumes queued commands until the session ends. Responses are
// emitted as they complete.
func (s *Session) worker() {
	defer s.emitters.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case request := <-s.commands:
			s.inFlight.Add(1)
			s.process(request)
			s.inFlight.Done()
		}
	}
}

func (s *Session) process(request []byte) {
	response, err := s.handler(s.ctx, request)
	if err != nil {
		log.Printf("[SESSION] %s handler error: %v", s.id, err)
		return
	}
	if response == nil {
		return // notification
	}
	if s.ctx.Err() != nil {
		return // cancelled mid-flight: suppress the response
	}
	s.emit(Event{Type: EventResponse, Payload: response})
}

// emit pushes an event unless the session is gone.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// keepAlive pings on a fixed interval and forces Draining after too many
// missed acks.
func (s *Session) keepAlive() {
	defer s.emitters.Done()
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state != Open {
				s.mu.Unlock()
				return
			}
			s.missed++
			missed := s.missed
			s.mu.Unlock()

			if missed > s.cfg.MissedPingLimit {
				s.Drain("keep-alive acks missed")
				return
			}
			s.emit(Event{Type: EventPing, Payload: []byte(`{"type":"ping"}`)})
		}
	}
}

// Manager tracks live sessions and enforces the session cap.
type Manager struct {
	cfg     Config
	handler Handler

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a Manager dispatching commands to handler.
func NewManager(handler Handler, cfg Config) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		handler:  handler,
		sessions: make(map[string]*Session),
	}
}

// Open registers a new session and immediately transitions it to Open. The
// first event on the session's channel announces its id.
func (m *Manager) Open() (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooMany
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		handler:  m.handler,
		cfg:      m.cfg,
		state:    Connecting,
		ctx:      ctx,
		cancel:   cancel,
		commands: make(chan []byte, m.cfg.QueueDepth),
		events:   make(chan Event, m.cfg.OutboundDepth),
		onClose:  m.remove,
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.events <- Event{
		Type:    EventSession,
		Payload: []byte(`{"type":"session","session_id":"` + s.id + `"}`),
	}
	s.open()
	log.Printf("[SESSION] %s opened", s.id)
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// DrainAll drains every live session, for graceful shutdown.
func (m *Manager) DrainAll() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Drain("server shutdown")
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}
