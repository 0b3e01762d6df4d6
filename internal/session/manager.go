package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned by Dispatch for identifiers that were
	// never opened or have been closed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrQueueFull is returned by Dispatch when a session already has the
	// maximum number of requests waiting.
	ErrQueueFull = errors.New("session queue is full")

	// ErrTransport wraps a failed write to a session stream.
	ErrTransport = errors.New("stream write failed")

	// ErrClosed is returned by Open after Shutdown.
	ErrClosed = errors.New("session manager is shut down")
)

// MessageEvent is the stream event name carrying handler responses.
const MessageEvent = "message"

// DefaultQueueDepth is the number of requests a session may have waiting
// behind the one in flight.
const DefaultQueueDepth = 8

// Observer receives session lifecycle signals.
type Observer interface {
	SessionOpened()
	SessionClosed(lifetime time.Duration)
}

// Config configures a Manager.
type Config struct {
	// NewHandler builds the protocol handler for a new session. Required.
	NewHandler func(sessionID string) Handler

	// QueueDepth bounds each session's pending requests. Defaults to
	// DefaultQueueDepth.
	QueueDepth int

	// NewID generates session identifiers. Defaults to random UUIDs.
	NewID func() string

	Logger   *zap.Logger
	Observer Observer
}

// Manager owns the table of open sessions. It is the only shared mutable
// state in the server; all methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	workers sync.WaitGroup
}

// NewManager creates an empty session table.
func NewManager(cfg Config) *Manager {
	if cfg.NewHandler == nil {
		panic("session: Config.NewHandler is required")
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("session"),
		sessions: make(map[string]*Session),
	}
}

// Open registers a new session bound to stream and starts its worker. The
// identifier is unique among open sessions.
func (m *Manager) Open(stream Stream) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	id := m.cfg.NewID()
	for _, taken := m.sessions[id]; taken; _, taken = m.sessions[id] {
		id = m.cfg.NewID()
	}
	s := &Session{
		id:      id,
		stream:  stream,
		handler: m.cfg.NewHandler(id),
		opened:  time.Now(),
		logger:  m.logger.With(zap.String("session_id", id)),
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan []byte, m.cfg.QueueDepth),
		done:    make(chan struct{}),
	}
	m.sessions[id] = s
	m.workers.Add(1)
	m.mu.Unlock()

	go m.run(s)

	if m.cfg.Observer != nil {
		m.cfg.Observer.SessionOpened()
	}
	s.logger.Info("session opened")
	return s, nil
}

// Close removes the session from the table and marks it closed, cancelling
// any in-flight request. Closing an unknown or already closed id is a no-op.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok || !s.shutdown() {
		return
	}

	lifetime := time.Since(s.opened)
	if m.cfg.Observer != nil {
		m.cfg.Observer.SessionClosed(lifetime)
	}
	s.logger.Info("session closed", zap.Duration("lifetime", lifetime))
}

// Dispatch queues msg for the session's handler. The response, if any, is
// written to that session's stream, never returned here.
//
// Returns ErrSessionNotFound (wrapped) when id is unknown or closed; nothing
// is written to any stream in that case. Returns ErrQueueFull when the
// session has too many requests waiting.
func (m *Manager) Dispatch(id string, msg []byte) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.enqueue(msg)
}

// Lookup returns the open session with the given id.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session, refuses new ones, and waits for session
// workers to return or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the per-session worker. It handles queued messages strictly one at
// a time until the session closes.
func (m *Manager) run(s *Session) {
	defer m.workers.Done()

	for {
		select {
		case <-s.done:
			m.discardQueued(s)
			return
		default:
		}

		select {
		case <-s.done:
			m.discardQueued(s)
			return
		case msg := <-s.queue:
			m.process(s, msg)
		}
	}
}

func (m *Manager) process(s *Session, msg []byte) {
	resp := m.handle(s, msg)
	if resp == nil {
		return
	}

	if s.Status() == StatusClosed {
		s.logger.Debug("discarding response for closed session", zap.Int("bytes", len(resp)))
		return
	}

	if err := s.write(MessageEvent, resp); err != nil {
		s.logger.Warn("stream write failed; closing session", zap.Error(err))
		m.Close(s.id)
	}
}

// handle runs the handler, converting a panic into a logged failure so one
// bad request cannot take down the process.
func (m *Manager) handle(s *Session, msg []byte) (resp []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			resp = nil
		}
	}()
	return s.handler.HandleMessage(s.ctx, msg)
}

func (m *Manager) discardQueued(s *Session) {
	n := 0
	for {
		select {
		case <-s.queue:
			n++
		default:
			if n > 0 {
				s.logger.Info("discarded queued requests", zap.Int("count", n))
			}
			return
		}
	}
}
