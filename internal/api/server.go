// Package api provides HTTP API server functionality.
package api

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/graaaaa/attention-collector/internal/api/sseauth"
	"github.com/graaaaa/attention-collector/internal/app"
	"github.com/graaaaa/attention-collector/internal/messaging"
	"github.com/graaaaa/attention-collector/internal/metrics"
	"github.com/graaaaa/attention-collector/internal/page"
)

// SessionUsecase manages browser page sessions.
type SessionUsecase interface {
	Open(ctx context.Context, req app.OpenRequest) (app.SessionInfo, error)
	Apply(ctx context.Context, id string, signals []page.Signal) (app.SessionInfo, error)
	Close(ctx context.Context, id string) (app.SessionInfo, error)
	Get(id string) (app.SessionInfo, bool)
	List() []app.SessionInfo
}

// StatsSource produces the STATS_UPDATE payload.
type StatsSource interface {
	Snapshot(ctx context.Context) (messaging.StatsUpdate, error)
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger
	now        func() time.Time
	heartbeat  time.Duration

	// Use case dependencies
	health   app.HealthUsecase
	events   app.EventsUsecase
	earnings app.EarningsUsecase
	sessions SessionUsecase
	stats    StatsSource
	cfg      app.ConfigUsecase
	bus      *messaging.Bus

	hub     *Hub
	metrics *metrics.Metrics
	webFS   fs.FS

	// Auth configuration
	authEnabled  bool
	authUsername string
	authPassword string
	authLimiter  *AuthFailureLimiter
	sseSecret    []byte
	tokens       *sseauth.Signer

	limiter        *RateLimiter
	allowedOrigins []string
	allowedHosts   []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEventsUsecase sets the events use case.
func WithEventsUsecase(events app.EventsUsecase) ServerOption {
	return func(s *Server) { s.events = events }
}

// WithEarningsUsecase sets the reward query use case.
func WithEarningsUsecase(e app.EarningsUsecase) ServerOption {
	return func(s *Server) { s.earnings = e }
}

// WithSessions sets the page session manager.
func WithSessions(sessions SessionUsecase) ServerOption {
	return func(s *Server) { s.sessions = sessions }
}

// WithStats sets the source of stats snapshots sent to new stream clients.
func WithStats(stats StatsSource) ServerOption {
	return func(s *Server) { s.stats = stats }
}

// WithConfigUsecase sets the configuration use case.
func WithConfigUsecase(cfg app.ConfigUsecase) ServerOption {
	return func(s *Server) { s.cfg = cfg }
}

// WithBus sets the message bus behind POST /api/v1/messages.
func WithBus(bus *messaging.Bus) ServerOption {
	return func(s *Server) { s.bus = bus }
}

// WithHub sets the SSE hub.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

// WithMetrics instruments requests and exposes GET /metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger for the server.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBasicAuth enables HTTP Basic Auth on every route except health.
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

// WithSSESecret enables stats stream tokens signed with secret.
func WithSSESecret(secret []byte) ServerOption {
	return func(s *Server) { s.sseSecret = secret }
}

// WithRateLimiter throttles session and message writes.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithAllowedOrigins enables CORS for the given origins, typically the
// browser extension origin.
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(s *Server) { s.allowedOrigins = append(s.allowedOrigins, origins...) }
}

// WithAllowedHosts adds hosts accepted by the config write CSRF check.
func WithAllowedHosts(hosts ...string) ServerOption {
	return func(s *Server) { s.allowedHosts = append(s.allowedHosts, hosts...) }
}

// WithWebFS serves the popup UI from fsys.
func WithWebFS(fsys fs.FS) ServerOption {
	return func(s *Server) { s.webFS = fsys }
}

// WithClock sets the time source for stream token checks.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHeartbeat sets the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// NewServer creates a new API server with the given dependencies.
func NewServer(addr string, health app.HealthUsecase, opts ...ServerOption) *Server {
	s := &Server{
		logger:    slog.Default(),
		now:       time.Now,
		heartbeat: heartbeatInterval,
		health:    health,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.sseSecret) > 0 {
		s.tokens = sseauth.NewSigner(s.sseSecret, sseauth.DefaultTTL)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	if !s.authEnabled {
		return func(h http.Handler) http.Handler { return h }
	}
	return basicAuthMiddleware(s.authUsername, s.authPassword, s.authLimiter)
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return s.limiter.Middleware
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	if len(s.allowedOrigins) > 0 {
		r.Use(corsMiddleware(CORSConfig{AllowedOrigins: s.allowedOrigins}))
	}

	if s.metrics != nil {
		r.With(s.authMiddleware()).Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		if s.hub != nil {
			stream := s.authMiddleware()
			if s.authEnabled {
				stream = sseTokenMiddleware(s.authUsername, s.authPassword, s.tokens, s.now)
			}
			r.With(stream).Get("/stream", s.handleStream)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware())

			if s.authEnabled {
				r.Post("/auth/token", s.handleAuthToken)
			}
			if s.earnings != nil {
				r.Get("/earnings", s.handleEarnings)
			}
			if s.stats != nil {
				r.Get("/stats", s.handleStats)
			}
			if s.events != nil {
				r.Get("/events", s.handleEvents)
			}
			if s.bus != nil {
				r.With(s.rateLimit()).Post("/messages", s.handleMessage)
			}
			if s.cfg != nil {
				r.Get("/config", s.handleGetConfig)
				r.With(csrfMiddleware(s.allowedHosts)).Put("/config", s.handlePutConfig)
			}
			if s.sessions != nil {
				r.Route("/sessions", func(r chi.Router) {
					r.Get("/", s.handleListSessions)
					r.With(s.rateLimit()).Post("/", s.handleOpenSession)
					r.Get("/{id}", s.handleGetSession)
					r.With(s.rateLimit()).Post("/{id}/signals", s.handleSignals)
					r.Delete("/{id}", s.handleCloseSession)
				})
			}
		})
	})

	if s.webFS != nil {
		r.With(s.authMiddleware()).Handle("/*", newSPAHandler(s.webFS))
	}
	return r
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.Handle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
