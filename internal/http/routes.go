// Package httpx provides the orchestrator's REST API: task CRUD, run
// inspection, agent registration, event publishing, and health probes.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	domainauth "github.com/ordinaut/ordinaut/internal/domain/auth"
	"github.com/ordinaut/ordinaut/internal/observability/prom"
	"github.com/ordinaut/ordinaut/internal/ports"
	"github.com/ordinaut/ordinaut/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Tasks  *service.TaskService
	Runs   *service.RunService
	Agents *service.AgentService
	Events *service.EventService
	Audit  *service.AuditService
	Health *service.HealthService

	// Verifier authenticates every /api request.
	Verifier ports.TokenVerifier
	// Minter issues tokens on agent registration. Optional (nil in OIDC mode).
	Minter ports.TokenMinter

	// Metrics supplies the /metrics registry. Optional; falls back to the
	// default prometheus handler.
	Metrics *prom.Metrics

	Logger *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	registerTaskRoutes(mux, services)
	registerRunRoutes(mux, services)
	registerAgentRoutes(mux, services)
	registerEventRoutes(mux, services)
	registerAuditRoutes(mux, services)
	registerHealthRoutes(mux, services)

	if services.Metrics != nil {
		mux.Handle("GET /metrics", services.Metrics.Handler())
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return Chain(mux, Recover(logger), Logging(logger))
}

func registerTaskRoutes(mux *http.ServeMux, services RouterServices) {
	h := &TaskHandlers{Tasks: services.Tasks, Runs: services.Runs}
	authed := authFor(services)

	mux.Handle("POST /api/tasks", authed(domainauth.ScopeTasksWrite, http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/tasks", authed(domainauth.ScopeTasksRead, http.HandlerFunc(h.List)))
	mux.Handle("GET /api/tasks/{id}", authed(domainauth.ScopeTasksRead, http.HandlerFunc(h.Get)))
	mux.Handle("PATCH /api/tasks/{id}", authed(domainauth.ScopeTasksWrite, http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/tasks/{id}", authed(domainauth.ScopeTasksWrite, http.HandlerFunc(h.Cancel)))
	mux.Handle("GET /api/tasks/{id}/runs", authed(domainauth.ScopeRunsRead, http.HandlerFunc(h.ListRuns)))
}

func registerRunRoutes(mux *http.ServeMux, services RouterServices) {
	h := &RunHandlers{Runs: services.Runs}
	authed := authFor(services)

	mux.Handle("GET /api/runs/{id}", authed(domainauth.ScopeRunsRead, http.HandlerFunc(h.Get)))
}

func registerAgentRoutes(mux *http.ServeMux, services RouterServices) {
	h := &AgentHandlers{Agents: services.Agents, Minter: services.Minter}
	authed := authFor(services)

	// Registration hands out credentials, so only admins may do it.
	mux.Handle("POST /api/agents", authed(domainauth.ScopeAdmin, http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/agents", authed(domainauth.ScopeAdmin, http.HandlerFunc(h.List)))
	mux.Handle("GET /api/agents/{id}", authed(domainauth.ScopeTasksRead, http.HandlerFunc(h.Get)))
}

func registerEventRoutes(mux *http.ServeMux, services RouterServices) {
	h := &EventHandlers{Publisher: services.Events}
	authed := authFor(services)

	mux.Handle("POST /api/events", authed(domainauth.ScopeEventsPublish, http.HandlerFunc(h.Publish)))
}

func registerAuditRoutes(mux *http.ServeMux, services RouterServices) {
	if services.Audit == nil {
		return
	}
	h := &AuditHandlers{Audit: services.Audit}
	authed := authFor(services)

	mux.Handle("GET /api/audit", authed(domainauth.ScopeAdmin, http.HandlerFunc(h.List)))
}

func registerHealthRoutes(mux *http.ServeMux, services RouterServices) {
	h := &HealthHandlers{Health: services.Health}

	// Probes stay unauthenticated so orchestration platforms can reach them.
	mux.Handle("GET /health", http.HandlerFunc(h.Check))
	mux.Handle("GET /health/ready", http.HandlerFunc(h.Ready))
	mux.Handle("GET /health/live", http.HandlerFunc(h.Live))
}

// authFor returns a helper that wraps a handler in authentication plus a
// scope requirement.
func authFor(services RouterServices) func(domainauth.Scope, http.Handler) http.Handler {
	authenticate := Authenticate(services.Verifier)
	return func(scope domainauth.Scope, h http.Handler) http.Handler {
		return authenticate(RequireScope(scope)(h))
	}
}
