package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/archive"
	"armouriq/armour/pkg/limits/ratelimit"
	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/security/auth"
	"armouriq/armour/pkg/telemetry/health"
	"armouriq/armour/pkg/telemetry/tracing"
	"armouriq/armour/pkg/trace"
)

// Pipeline runs and resolves traces.
type Pipeline interface {
	Execute(ctx context.Context, req trace.Request) (*trace.Result, error)
	ResolveApproval(ctx context.Context, id string, d approval.Decision) (*trace.ApprovalResult, error)
	Pending(id string) (*trace.Trace, bool)
}

// PolicySnapshot exposes the loaded rule set.
type PolicySnapshot interface {
	RuleSet() *ast.RuleSet
}

// TraceReader reads archived traces.
type TraceReader interface {
	Get(ctx context.Context, executionID string) (*trace.Trace, error)
	List(ctx context.Context, q *archive.Query) ([]*trace.Trace, error)
	Count(ctx context.Context, q *archive.Query) (int64, error)
}

// ApprovalReader reads queued approvals.
type ApprovalReader interface {
	Get(ctx context.Context, id string) (*approval.Approval, error)
	ListPending(ctx context.Context) ([]*approval.Approval, error)
}

// Config holds the transport limits.
type Config struct {
	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64

	// RequestTimeout bounds each request, including the pipeline run.
	// Zero disables the timeout.
	RequestTimeout time.Duration

	// MetricsPath is where the metrics handler is mounted. Default: /metrics.
	MetricsPath string

	Version health.VersionInfo
}

// Handler serves the governance API.
type Handler struct {
	config    Config
	pipeline  Pipeline
	policies  PolicySnapshot
	traces    TraceReader
	approvals ApprovalReader
	checker   *health.Checker
	metrics   http.Handler
	tracer    *tracing.Tracer
	auth      *auth.APIKeyMiddleware
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

// Dependencies wires the handler. Pipeline and Policies are required; the
// rest are optional. A nil Keys store disables authentication and a nil
// Limiter disables throttling.
type Dependencies struct {
	Pipeline  Pipeline
	Policies  PolicySnapshot
	Traces    TraceReader
	Approvals ApprovalReader
	Health    *health.Checker
	Metrics   http.Handler
	Tracer    *tracing.Tracer
	Keys      auth.APIKeyStore
	Limiter   *ratelimit.Limiter
}

// New creates a Handler.
func New(cfg Config, deps Dependencies, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Noop()
	}
	h := &Handler{
		config:    cfg,
		pipeline:  deps.Pipeline,
		policies:  deps.Policies,
		traces:    deps.Traces,
		approvals: deps.Approvals,
		checker:   deps.Health,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		limiter:   deps.Limiter,
		logger:    logger.With("component", "api"),
	}
	if deps.Keys != nil {
		h.auth = auth.NewAPIKeyMiddleware(deps.Keys, auth.DefaultSources, authError, logger)
	}
	return h
}

// Routes returns the router with the middleware chain applied. Recovery is
// outermost so a panic in any middleware still yields an error envelope.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer(h.logger))
	r.Use(RequestID)
	r.Use(Logger(h.logger))
	r.Use(tracing.Middleware(h.tracer))
	if h.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(h.config.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "no such endpoint", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed", "")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.checker.LivenessHandler())
		r.Get("/ready", h.checker.ReadinessHandler())
		r.Get("/version", health.VersionHandler(h.config.Version))

		r.Group(func(r chi.Router) {
			if h.auth != nil {
				r.Use(h.auth.Authenticate)
			}
			r.With(h.require(auth.RoleExecute), h.throttle).Post("/execute", h.handleExecute)

			r.With(h.require(auth.RoleRead)).Get("/policy", h.handlePolicy)
			r.With(h.require(auth.RoleRead)).Get("/traces", h.handleListTraces)
			r.With(h.require(auth.RoleRead)).Get("/traces/{executionID}", h.handleGetTrace)
			r.With(h.require(auth.RoleRead)).Get("/approvals", h.handleListApprovals)
			r.With(h.require(auth.RoleRead)).Get("/approvals/{approvalID}", h.handleGetApproval)
			r.With(h.require(auth.RoleApprove), h.throttle).Post("/approvals/{approvalID}", h.handleResolveApproval)
		})
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, h.config.MetricsPath, h.metrics)
	}
	return r
}

// require enforces role when authentication is on.
func (h *Handler) require(role auth.Role) func(http.Handler) http.Handler {
	if h.auth == nil {
		return passthrough
	}
	return h.auth.Require(role)
}

// throttle applies the rate limiter, keyed by principal or remote IP.
func (h *Handler) throttle(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return ratelimit.Middleware(h.limiter, clientKey, rateLimited)(next)
}

func clientKey(r *http.Request) string {
	if p := auth.Principal(r.Context()); p != "" {
		return "principal:" + p
	}
	return "ip:" + ratelimit.RemoteIP(r)
}

func passthrough(next http.Handler) http.Handler { return next }
