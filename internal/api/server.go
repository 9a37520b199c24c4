// Package api exposes the generation pipeline over HTTP as a JSON
// API: a generate endpoint, session CRUD, and health probes. Health
// probes bypass the middleware stack so orchestrators are never rate
// limited into marking the service unhealthy.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codelake/codelake/internal/assist"
	"github.com/codelake/codelake/internal/session"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger       *slog.Logger
	Assistant    *assist.Assistant // Required
	SessionStore *session.Store    // Optional: nil disables session endpoints
	Pool         *pgxpool.Pool     // Optional: nil disables database check in /ready
	RateBurst    int               // Rate limiter burst per IP (0 = default 30)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Assistant == nil {
		return nil, errors.New("assistant is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	gh := &generateHandler{assistant: cfg.Assistant, logger: logger}
	mux.HandleFunc("POST /api/v1/generate", gh.generate)

	if cfg.SessionStore != nil {
		sh := &sessionsHandler{store: cfg.SessionStore, logger: logger}
		mux.HandleFunc("POST /api/v1/sessions", sh.create)
		mux.HandleFunc("GET /api/v1/sessions", sh.list)
		mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
		mux.HandleFunc("GET /api/v1/sessions/{id}/turns", sh.turns)
		mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	// Recovery -> Logging -> RateLimit -> Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
