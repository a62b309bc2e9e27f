package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/overwatch-ai/reins/internal/agent"
	"github.com/overwatch-ai/reins/internal/eventlog"
	"github.com/overwatch-ai/reins/internal/otel"
)

const (
	defaultTimeout = 60 * time.Second
	runTimeout     = 30 * time.Minute
)

// Server holds all dependencies for the HTTP API.
type Server struct {
	router      *chi.Mux
	runner      *agent.Runner
	sessions    *agent.SessionStore
	plans       *agent.PlanStore
	events      *eventlog.Store
	stream      http.Handler // websocket mount at GET /v1/sessions/{sessionID}/stream
	webhooks    http.Handler // optional webhook triggers at POST /v1/triggers/{name}
	apiKeys     map[string]string
	corsOrigins []string
	limiter     *RateLimiter
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithWebhookHandler mounts the webhook trigger handler.
func WithWebhookHandler(h http.Handler) Option {
	return func(s *Server) { s.webhooks = h }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRateLimiter enables per-actor rate limiting on the authenticated API.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// NewServer builds a Server with the required dependencies and optional
// Option(s). apiKeys maps API key -> actor id.
func NewServer(
	runner *agent.Runner,
	sessions *agent.SessionStore,
	plans *agent.PlanStore,
	events *eventlog.Store,
	stream http.Handler,
	apiKeys map[string]string,
	opts ...Option,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		runner:      runner,
		sessions:    sessions,
		plans:       plans,
		events:      events,
		stream:      stream,
		apiKeys:     apiKeys,
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler (chi router with all middleware
// and routes). The message and approve routes run the state machine and are
// registered without the default request timeout so the handler-level run
// deadline takes effect; the websocket stream is long-lived for the same
// reason.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Webhooks (no auth; the trigger config decides actor and autonomy)
	if s.webhooks != nil {
		r.Post("/v1/triggers/{name}", s.webhooks.ServeHTTP)
	}

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		if s.limiter != nil {
			r.Use(RateLimitMiddleware(s.limiter))
		}

		// Long-running: runs the state machine or holds the socket open
		r.Post("/v1/sessions/{sessionID}/messages", s.handleSessionMessage)
		r.Post("/v1/plans/{id}/approve", s.handlePlanApprove)
		if s.stream != nil {
			r.Get("/v1/sessions/{sessionID}/stream", s.stream.ServeHTTP)
		}

		// Short routes: 60s request timeout
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Post("/v1/sessions", s.handleSessionCreate)
			r.Get("/v1/sessions", s.handleSessionList)
			r.Get("/v1/sessions/{sessionID}", s.handleSessionGet)
			r.Get("/v1/sessions/{sessionID}/events", s.handleSessionEvents)

			r.Get("/v1/plans/pending", s.handlePlansPending)
			r.Get("/v1/plans/{id}", s.handlePlanGet)
			r.Post("/v1/plans/{id}/reject", s.handlePlanReject)
		})
	})

	return r
}
