// Package api is the HTTP surface of the automation service: job
// management for operators and dashboards, the claim protocol for
// execution backends, browser sessions, the scheduling advisor and the
// live subscription route.
//
// Routes use Go 1.22 ServeMux patterns. Every response carries an
// X-Correlation-ID header; errors use the envelope
//
//	{"error":{"code":"not_found","message":"..."},"correlationId":"..."}
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/advisor"
	"github.com/evanramirez88/restaurant-consulting-site/automation/backend"
	"github.com/evanramirez88/restaurant-consulting-site/automation/engine"
	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/correlation"
)

// Sessions is the browser-service surface behind the session routes.
type Sessions interface {
	Sessions(ctx context.Context) ([]backend.Session, error)
	Terminate(ctx context.Context, clientID uuid.UUID) error
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// Option configures an API.
type Option func(*API)

// WithAdvisor enables the schedule recommendation route.
func WithAdvisor(a *advisor.Advisor) Option { return func(api *API) { api.advisor = a } }

// WithDecisions enables the decision route.
func WithDecisions(e *advisor.Engine) Option { return func(api *API) { api.decisions = e } }

// WithSessions enables the browser session routes.
func WithSessions(s Sessions) Option { return func(api *API) { api.sessions = s } }

// WithLive mounts the live subscription handler at
// GET /automation/ws/{client_id}.
func WithLive(h http.HandlerFunc) Option { return func(api *API) { api.live = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(api *API) { api.logger = l } }

// WithHealthCheck adds a named dependency check to GET /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(api *API) { api.checks = append(api.checks, namedCheck{name, check}) }
}

type namedCheck struct {
	name  string
	check HealthCheck
}

// API wires the HTTP handlers together.
type API struct {
	eng       *engine.Engine
	advisor   *advisor.Advisor
	decisions *advisor.Engine
	sessions  Sessions
	live      http.HandlerFunc
	checks    []namedCheck
	logger    *slog.Logger
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return correlation.Middleware(a.logger)(mux)
}

// RegisterRoutes registers every route on mux. Optional collaborators
// that are not configured leave their routes unregistered.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	a.registerJobRoutes(mux)
	a.registerSessionRoutes(mux)
	a.registerIntelligenceRoutes(mux)
	mux.HandleFunc("GET /healthz", a.healthz)
	if a.live != nil {
		mux.HandleFunc("GET /automation/ws/{client_id}", a.live)
	}
}

func (a *API) registerJobRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /automation/jobs", a.createJob)
	mux.HandleFunc("GET /automation/jobs", a.listJobs)
	mux.HandleFunc("GET /automation/jobs/stats", a.stats)
	mux.HandleFunc("GET /automation/jobs/{job_id}", a.getJob)
	mux.HandleFunc("PATCH /automation/jobs/{job_id}", a.updateJob)
	mux.HandleFunc("POST /automation/jobs/{job_id}/cancel", a.cancelJob)
	mux.HandleFunc("POST /automation/jobs/{job_id}/retry", a.retryJob)

	// Execution backend protocol.
	mux.HandleFunc("POST /automation/jobs/claim", a.claimJob)
	mux.HandleFunc("POST /automation/jobs/{job_id}/heartbeat", a.heartbeatJob)
}

func (a *API) registerSessionRoutes(mux *http.ServeMux) {
	if a.sessions == nil {
		return
	}
	mux.HandleFunc("GET /automation/sessions", a.listSessions)
	mux.HandleFunc("POST /automation/sessions/{client_id}/terminate", a.terminateSession)
}

func (a *API) registerIntelligenceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /intelligence/system/health", a.systemHealth)
	if a.advisor != nil {
		mux.HandleFunc("GET /intelligence/schedule/recommendations", a.recommendations)
	}
	if a.decisions != nil {
		mux.HandleFunc("POST /intelligence/decide", a.decide)
	}
}
