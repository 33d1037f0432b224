// Package server wires the HTTP API: routes, middleware chain, and
// lifecycle. Route-level auth follows the two trust domains: worker
// endpoints take Bearer JWTs scoped to worker types and permissions, admin
// endpoints take allow-listed addresses.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quorumlabs/marketforge/internal/admission"
	"github.com/quorumlabs/marketforge/internal/auth"
	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/metrics"
	"github.com/quorumlabs/marketforge/internal/server/handler"
	"github.com/quorumlabs/marketforge/internal/server/middleware"
	"github.com/quorumlabs/marketforge/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Deps aggregates everything the route table needs.
type Deps struct {
	Health    *handler.HealthHandler
	Proposals *handler.ProposalHandler
	Worker    *handler.WorkerHandler
	Admin     *handler.AdminHandler
	Hub       *ws.Hub
	JWT       auth.JWT
	Admins    *auth.AdminRegistry
	Limiter   *admission.Limiter
	Metrics   *metrics.Metrics
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers all routes and builds the middleware chain.
func New(cfg Config, d Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Probes and metrics, unauthenticated.
	mux.HandleFunc("GET /health", d.Health.Health)
	mux.HandleFunc("GET /ready", d.Health.Ready)
	mux.Handle("GET /metrics", d.Metrics.Handler())

	// Public surface, admission-controlled.
	mux.Handle("POST /api/proposals",
		middleware.Admit(d.Limiter, admission.ClassPropose, d.Metrics)(
			http.HandlerFunc(d.Proposals.Submit)))
	mux.Handle("GET /api/proposals/{id}",
		middleware.Admit(d.Limiter, admission.ClassDefault, d.Metrics)(
			http.HandlerFunc(d.Proposals.Get)))
	mux.Handle("POST /api/resolutions/{id}/dispute",
		middleware.Admit(d.Limiter, admission.ClassDispute, d.Metrics)(
			http.HandlerFunc(d.Proposals.Dispute)))

	// Worker surface. Token exchange authenticates with the API key itself;
	// everything else requires a JWT bound to the matching stage. Auth runs
	// before admission so a verified principal, not the source IP, is the
	// rate-limit key.
	admit := middleware.Admit(d.Limiter, admission.ClassInternal, d.Metrics)
	mux.Handle("POST /api/worker/token", admit(http.HandlerFunc(d.Worker.Token)))
	workerRoute := func(pattern, perm string, h http.HandlerFunc, types ...domain.WorkerType) {
		mux.Handle(pattern, middleware.WorkerAuth(d.JWT, perm, types...)(admit(h)))
	}
	workerRoute("POST /api/worker/candidates", auth.PermReportCandidates,
		d.Worker.Candidates, domain.WorkerExtractor)
	workerRoute("POST /api/worker/drafts", auth.PermReportDrafts,
		d.Worker.Drafts, domain.WorkerGenerator)
	workerRoute("POST /api/worker/validations", auth.PermReportValidation,
		d.Worker.Validations, domain.WorkerValidator)
	workerRoute("POST /api/worker/markets/{id}/published", auth.PermReportPublished,
		d.Worker.Published, domain.WorkerPublisher)
	workerRoute("POST /api/worker/resolutions", auth.PermReportResolution,
		d.Worker.Resolutions, domain.WorkerResolver)
	workerRoute("POST /api/worker/disputes/{id}/review", auth.PermReviewDisputes,
		d.Worker.DisputeReview, domain.WorkerDisputeAgent)

	// Admin surface. Reads stay unmetered; mutations share the internal
	// admission class.
	adminRoute := func(pattern, perm string, h http.HandlerFunc) {
		var wrapped http.Handler = h
		if strings.HasPrefix(pattern, "POST ") {
			wrapped = admit(wrapped)
		}
		mux.Handle(pattern, middleware.AdminAuth(d.Admins, perm)(wrapped))
	}
	adminRoute("GET /api/admin/proposals", auth.PermProposalsRead, d.Admin.ListProposals)
	adminRoute("POST /api/admin/proposals/{id}/approve", auth.PermProposalsReview, d.Admin.ApproveProposal)
	adminRoute("POST /api/admin/proposals/{id}/reject", auth.PermProposalsReview, d.Admin.RejectProposal)
	adminRoute("GET /api/admin/disputes", auth.PermDisputesRead, d.Admin.ListDisputes)
	adminRoute("POST /api/admin/disputes/{id}/resolve", auth.PermDisputesReview, d.Admin.ResolveDispute)
	adminRoute("GET /api/admin/audit", auth.PermProposalsRead, d.Admin.ListAudit)
	adminRoute("POST /api/admin/worker-keys", auth.PermConfigRead, d.Admin.CreateWorkerKey)
	adminRoute("POST /api/admin/config/refresh", auth.PermConfigRead, d.Admin.RefreshConfig)

	// Operator event feed.
	if d.Hub != nil {
		mux.HandleFunc("GET /ws/events", d.Hub.HandleEvents)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger, d.Metrics)(h)
	h = middleware.Correlation()(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
