package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quorumlabs/marketforge/internal/auth"
	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/lifecycle"
	"github.com/quorumlabs/marketforge/internal/server/middleware"
)

// AdminHandler serves the human review surface.
type AdminHandler struct {
	svc    *lifecycle.Service
	keys   domain.WorkerKeyStore
	bus    domain.Publisher
	logger *slog.Logger
}

// NewAdminHandler creates the handler.
func NewAdminHandler(svc *lifecycle.Service, keys domain.WorkerKeyStore, bus domain.Publisher, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		keys:   keys,
		bus:    bus,
		logger: logger.With(slog.String("handler", "admin")),
	}
}

// adminActor returns the audit identity of the calling admin.
func adminActor(ctx context.Context) string {
	if a, ok := middleware.AdminFrom(ctx); ok {
		return a.Address
	}
	return "admin:unknown"
}

// ListProposals lists proposals awaiting review. ?status= overrides the
// default needs_human.
// GET /api/admin/proposals
func (h *AdminHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	status := domain.ProposalStatusNeedsHuman
	if v := r.URL.Query().Get("status"); v != "" {
		status = domain.ProposalStatus(v)
	}
	list, err := h.svc.ListProposals(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		out = append(out, map[string]any{
			"id":            p.ID,
			"text":          p.Text,
			"category_hint": p.CategoryHint,
			"status":        string(p.Status),
			"review_reason": p.ReviewReason,
			"created_at":    p.CreatedAt,
		})
	}
	writeData(w, http.StatusOK, out)
}

type adminNoteRequest struct {
	Note string `json:"note,omitempty"`
}

// ApproveProposal releases a proposal from human review.
// POST /api/admin/proposals/{id}/approve
func (h *AdminHandler) ApproveProposal(w http.ResponseWriter, r *http.Request) {
	var req adminNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}
	id := r.PathValue("id")
	if err := h.svc.AdminApprove(r.Context(), id, adminActor(r.Context()), req.Note); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "status": "approved"})
}

// RejectProposal terminally rejects a proposal.
// POST /api/admin/proposals/{id}/reject
func (h *AdminHandler) RejectProposal(w http.ResponseWriter, r *http.Request) {
	var req adminNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}
	id := r.PathValue("id")
	if err := h.svc.AdminReject(r.Context(), id, adminActor(r.Context()), req.Note); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "status": "rejected"})
}

// ListDisputes lists disputes by status, defaulting to escalated since those
// are the ones awaiting a human.
// GET /api/admin/disputes
func (h *AdminHandler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	status := domain.DisputeStatusEscalated
	if v := r.URL.Query().Get("status"); v != "" {
		status = domain.DisputeStatus(v)
	}
	list, err := h.svc.ListDisputes(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, d := range list {
		entry := map[string]any{
			"id":            d.ID,
			"resolution_id": d.ResolutionID,
			"disputer":      d.Disputer,
			"reason":        d.Reason,
			"evidence_urls": d.EvidenceURLs,
			"status":        string(d.Status),
			"created_at":    d.CreatedAt,
		}
		if d.Review != nil {
			entry["review"] = d.Review
		}
		out = append(out, entry)
	}
	writeData(w, http.StatusOK, out)
}

type adminDisputeRequest struct {
	Decision  string `json:"decision"`
	NewResult string `json:"new_result,omitempty"`
	Note      string `json:"note,omitempty"`
}

// ResolveDispute is the human decision on an escalated dispute.
// POST /api/admin/disputes/{id}/resolve
func (h *AdminHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req adminDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}
	id := r.PathValue("id")
	err := h.svc.AdminResolveDispute(r.Context(), id,
		domain.DisputeStatus(req.Decision),
		domain.ResolutionResult(req.NewResult),
		adminActor(r.Context()), req.Note)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "status": req.Decision})
}

// ListAudit returns the audit trail, newest first.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListAudit(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":             e.ID,
			"action":         e.Action,
			"entity_type":    e.EntityType,
			"entity_id":      e.EntityID,
			"actor":          e.Actor,
			"details":        e.Details,
			"ai_version":     e.AIVersion,
			"llm_request_id": e.LLMRequestID,
			"correlation_id": e.CorrelationID,
			"created_at":     e.CreatedAt,
		})
	}
	writeData(w, http.StatusOK, out)
}

type workerKeyRequest struct {
	WorkerType  string   `json:"worker_type"`
	Permissions []string `json:"permissions,omitempty"`
}

// CreateWorkerKey mints a worker API key. The plaintext appears once in this
// response and is never recoverable afterwards.
// POST /api/admin/worker-keys
func (h *AdminHandler) CreateWorkerKey(w http.ResponseWriter, r *http.Request) {
	var req workerKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}
	wt := domain.WorkerType(req.WorkerType)
	if !wt.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown worker type",
			map[string]any{"field": "worker_type"})
		return
	}
	perms := req.Permissions
	if len(perms) == 0 {
		perms = auth.DefaultWorkerPermissions(wt)
	}

	plaintext, record, err := auth.GenerateKey(wt, perms)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.keys.Create(r.Context(), record); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("worker key created",
		slog.String("key_id", record.ID),
		slog.String("worker_type", string(wt)),
		slog.String("admin", adminActor(r.Context())),
	)
	writeData(w, http.StatusCreated, map[string]any{
		"key_id":      record.ID,
		"api_key":     plaintext,
		"worker_type": string(wt),
		"permissions": perms,
	})
}

// RefreshConfig broadcasts a config reload to all long-running workers.
// POST /api/admin/config/refresh
func (h *AdminHandler) RefreshConfig(w http.ResponseWriter, r *http.Request) {
	payload, err := json.Marshal(domain.ConfigRefreshMessage{Scope: "all"})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.bus.Publish(r.Context(), domain.QueueConfigRefresh, payload); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.logger.Info("config refresh broadcast",
		slog.String("admin", adminActor(r.Context())),
	)
	writeData(w, http.StatusAccepted, map[string]any{"status": "refresh_requested"})
}
