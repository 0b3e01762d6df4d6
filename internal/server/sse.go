package server

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// EndpointEvent is the first event on every stream; its data is the URL the
// client must POST its messages to.
const EndpointEvent = "endpoint"

// handleSSE opens a session bound to this response and keeps the stream
// alive until the client disconnects or the session is closed.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess, err := s.sessions.Open(stream)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	defer func() {
		stream.Close()
		s.sessions.Close(sess.ID())
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	endpoint := PathMessages + "?sessionId=" + url.QueryEscape(sess.ID())
	if err := stream.Send(EndpointEvent, []byte(endpoint)); err != nil {
		s.logger.Warn("failed to send endpoint event", zap.String("session_id", sess.ID()), zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			return
		case <-heartbeat.C:
			if err := stream.Comment("ping"); err != nil {
				s.logger.Debug("heartbeat failed", zap.String("session_id", sess.ID()), zap.Error(err))
				return
			}
		}
	}
}
