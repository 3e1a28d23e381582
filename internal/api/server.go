package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/app"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	health app.HealthUsecase
	events app.EventsUsecase
	state  app.StateUsecase
	stats  app.StatsUsecase
	cfg    app.ConfigUsecase

	hub     *Hub
	metrics http.Handler

	authEnabled  bool
	authUsername string
	authPassword string
	authLimiter  *AuthFailureLimiter

	rateLimiter  *RateLimiter
	allowedHosts []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEventsUsecase enables /events and /parse-failures.
func WithEventsUsecase(events app.EventsUsecase) ServerOption {
	return func(s *Server) { s.events = events }
}

// WithStateUsecase enables /now.
func WithStateUsecase(state app.StateUsecase) ServerOption {
	return func(s *Server) { s.state = state }
}

// WithStatsUsecase enables /stats/basic.
func WithStatsUsecase(stats app.StatsUsecase) ServerOption {
	return func(s *Server) { s.stats = stats }
}

// WithConfigUsecase enables GET and PUT /config.
func WithConfigUsecase(cfg app.ConfigUsecase) ServerOption {
	return func(s *Server) { s.cfg = cfg }
}

// WithHub enables /stream.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithBasicAuth protects every route except health with HTTP Basic Auth.
// Empty credentials leave auth disabled.
func WithBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		if username != "" && password != "" {
			s.authEnabled = true
			s.authUsername = username
			s.authPassword = password
		}
	}
}

// WithAuthFailureLimiter locks out clients after repeated bad credentials.
func WithAuthFailureLimiter(afl *AuthFailureLimiter) ServerOption {
	return func(s *Server) { s.authLimiter = afl }
}

// WithRateLimiter applies rl to every route.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.rateLimiter = rl }
}

// WithAllowedHosts lists extra hosts accepted as Origin for config writes.
func WithAllowedHosts(hosts ...string) ServerOption {
	return func(s *Server) { s.allowedHosts = append(s.allowedHosts, hosts...) }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with the given dependencies.
func NewServer(addr string, health app.HealthUsecase, opts ...ServerOption) *Server {
	mux := http.NewServeMux()
	s := &Server{
		mux:    mux,
		health: health,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()

	var handler http.Handler = securityHeadersMiddleware(mux)
	if s.rateLimiter != nil {
		handler = s.rateLimiter.Middleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      0, // SSE connections are long-lived
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	return s
}

// wrapAuth wraps h with Basic Auth when enabled.
func (s *Server) wrapAuth(h http.Handler) http.Handler {
	if !s.authEnabled {
		return h
	}
	return basicAuthMiddleware(s.authUsername, s.authPassword, s.authLimiter)(h)
}

// registerRoutes sets up the API routes. Routes whose use case is not
// configured are not mounted.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	if s.events != nil {
		s.mux.Handle("GET /api/v1/events", s.wrapAuth(http.HandlerFunc(s.handleEvents)))
		s.mux.Handle("GET /api/v1/parse-failures", s.wrapAuth(http.HandlerFunc(s.handleParseFailures)))
	}
	if s.state != nil {
		s.mux.Handle("GET /api/v1/now", s.wrapAuth(http.HandlerFunc(s.handleNow)))
	}
	if s.stats != nil {
		s.mux.Handle("GET /api/v1/stats/basic", s.wrapAuth(http.HandlerFunc(s.handleStats)))
	}
	if s.cfg != nil {
		s.mux.Handle("GET /api/v1/config", s.wrapAuth(http.HandlerFunc(s.handleGetConfig)))
		put := csrfMiddleware(s.allowedHosts, false)(http.HandlerFunc(s.handlePutConfig))
		s.mux.Handle("PUT /api/v1/config", s.wrapAuth(put))
	}
	if s.hub != nil {
		s.mux.Handle("GET /api/v1/stream", s.wrapAuth(http.HandlerFunc(s.handleStream)))
	}
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.wrapAuth(s.metrics))
	}
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.Handle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until Shutdown.
// Returns nil after a graceful shutdown.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener. Returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
