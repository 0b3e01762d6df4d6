package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by writes to a stream whose request has ended.
var ErrStreamClosed = errors.New("stream closed")

// sseStream serialises Server-Sent Events onto one response. It is shared by
// the request goroutine (endpoint event, heartbeats) and the session worker
// (responses), so every write holds mu. Once closed no further bytes reach
// the ResponseWriter, which must not be touched after the handler returns.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	return &sseStream{w: w, flusher: flusher}, nil
}

// Send writes one event. Multi-line data is split across data fields.
func (s *sseStream) Send(event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		fmt.Fprintf(&buf, "event: %s\n", event)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return s.write(buf.Bytes())
}

// Comment writes an SSE comment line, used as a keep-alive.
func (s *sseStream) Comment(text string) error {
	return s.write([]byte(": " + text + "\n\n"))
}

func (s *sseStream) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if _, err := s.w.Write(p); err != nil {
		s.closed = true
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close stops all further writes. Safe to call more than once.
func (s *sseStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
