package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ironsheep/visionstruct-mcp/internal/protocol"
	"github.com/ironsheep/visionstruct-mcp/internal/session"
)

// Default limits applied when Config leaves them zero.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMaxBodyBytes      = 32 << 20
)

// Route paths.
const (
	PathSSE      = "/sse"
	PathMessages = "/messages"
)

// Observer receives session and tool signals. *telemetry.Observer
// satisfies it.
type Observer interface {
	session.Observer
	protocol.Observer
}

// Config configures a Server.
type Config struct {
	// Analyzer backs the vision_to_json tool. Required.
	Analyzer protocol.Analyzer

	Logger   *zap.Logger
	Observer Observer

	// QueueDepth bounds the requests each session may have waiting.
	QueueDepth int

	// HeartbeatInterval is the spacing of SSE keep-alive comments.
	HeartbeatInterval time.Duration

	// MaxBodyBytes limits POST /messages bodies.
	MaxBodyBytes int64

	// CORSOrigins lists allowed origins; empty allows any.
	CORSOrigins []string
}

// Server is the MCP-over-SSE HTTP transport.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	sessions *session.Manager
}

// New creates a Server with an empty session table.
func New(cfg Config) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{cfg: cfg, logger: logger.Named("server")}

	var sessionObserver session.Observer
	var toolObserver protocol.Observer
	if cfg.Observer != nil {
		sessionObserver = cfg.Observer
		toolObserver = cfg.Observer
	}

	s.sessions = session.NewManager(session.Config{
		QueueDepth: cfg.QueueDepth,
		Logger:     logger,
		Observer:   sessionObserver,
		NewHandler: func(id string) session.Handler {
			return protocol.New(protocol.Config{
				SessionID: id,
				Analyzer:  cfg.Analyzer,
				Logger:    logger,
				Observer:  toolObserver,
			})
		},
	})
	return s
}

// Sessions returns the session table.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metadata.json", s.handleMetadata)
	r.Get("/mcp", s.handleMetadata)
	r.Get("/tools", s.handleTools)

	r.Get(PathSSE, s.handleSSE)
	r.With(s.limitBody).Post(PathMessages, s.handleMessage)

	return r
}

// Shutdown closes every session, which ends their SSE responses, and waits
// for session workers to finish. Run it before http.Server.Shutdown, or
// register it with RegisterOnShutdown, since open streams never go idle.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.sessions.Shutdown(ctx)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
