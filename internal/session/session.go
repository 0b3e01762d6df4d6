package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the lifecycle state of a Session.
type Status int32

const (
	StatusOpen Status = iota
	StatusClosed
)

func (s Status) String() string {
	if s == StatusClosed {
		return "closed"
	}
	return "open"
}

// Stream is the outbound half of a client connection. Send writes one event
// and may be called from any goroutine; an error means the stream is no
// longer usable.
type Stream interface {
	Send(event string, data []byte) error
}

// Handler processes one inbound message and returns the response to push
// down the stream, or nil when there is nothing to send (notifications).
// ctx is cancelled when the session closes.
type Handler interface {
	HandleMessage(ctx context.Context, msg []byte) []byte
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg []byte) []byte

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg []byte) []byte {
	return f(ctx, msg)
}

// Session is the server-side state bound to one open stream.
//
// Messages are queued and handled one at a time, in arrival order, by a
// goroutine owned by the session. Closing the session cancels the context
// passed to the handler and discards anything still queued.
type Session struct {
	id      string
	stream  Stream
	handler Handler
	opened  time.Time
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan []byte

	mu     sync.Mutex
	status Status
	done   chan struct{}
}

// ID returns the session identifier clients use to tag their requests.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Opened returns the time the session was created.
func (s *Session) Opened() time.Time {
	return s.opened
}

// enqueue adds msg to the session queue without blocking.
func (s *Session) enqueue(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusClosed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, s.id)
	}
}

// shutdown marks the session closed. It reports whether this call did the
// transition.
func (s *Session) shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusClosed {
		return false
	}
	s.status = StatusClosed
	s.cancel()
	close(s.done)
	return true
}

// write sends one event on the session stream.
func (s *Session) write(event string, data []byte) error {
	if err := s.stream.Send(event, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}
