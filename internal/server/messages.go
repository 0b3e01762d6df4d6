package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ironsheep/visionstruct-mcp/internal/session"
)

// handleMessage routes one JSON-RPC message to the session named by the
// sessionId query parameter. The response travels on that session's stream;
// this request only reports whether the message was accepted.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing sessionId parameter")
		return
	}
	if _, ok := s.sessions.Lookup(id); !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "Request body is not valid JSON")
		return
	}

	switch err := s.sessions.Dispatch(id, body); {
	case err == nil:
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
		return
	case errors.Is(err, session.ErrQueueFull):
		s.logger.Warn("session queue full", zap.String("session_id", id))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Session is busy")
		return
	default:
		s.logger.Error("dispatch failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
}
