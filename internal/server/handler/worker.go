package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quorumlabs/marketforge/internal/auth"
	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/lifecycle"
	"github.com/quorumlabs/marketforge/internal/metrics"
	"github.com/quorumlabs/marketforge/internal/server/middleware"
)

// WorkerHandler serves the worker surface: token exchange plus the report
// endpoints the pipeline stages call back into.
type WorkerHandler struct {
	keys    *auth.KeyService
	svc     *lifecycle.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewWorkerHandler creates the handler.
func NewWorkerHandler(keys *auth.KeyService, svc *lifecycle.Service, m *metrics.Metrics, logger *slog.Logger) *WorkerHandler {
	return &WorkerHandler{
		keys:    keys,
		svc:     svc,
		metrics: m,
		logger:  logger.With(slog.String("handler", "worker")),
	}
}

func (h *WorkerHandler) report(stage string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.Reports.WithLabelValues(stage, outcome).Inc()
}

// actor returns the audit identity of the calling worker.
func actor(r *http.Request) string {
	if claims, ok := middleware.WorkerClaimsFrom(r.Context()); ok {
		return "worker:" + string(claims.WorkerType)
	}
	return "worker:unknown"
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

// Token exchanges a worker API key for a short-lived JWT.
// POST /api/worker/token
func (h *WorkerHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}
	token, expiresAt, err := h.keys.Exchange(r.Context(), req.APIKey)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

type candidateRequest struct {
	ProposalID    string   `json:"proposal_id,omitempty"`
	NewsRef       string   `json:"news_ref,omitempty"`
	Text          string   `json:"text,omitempty"`
	CategoryHint  string   `json:"category_hint,omitempty"`
	Entities      []string `json:"entities,omitempty"`
	EventType     string   `json:"event_type,omitempty"`
	MarketWorthy  bool     `json:"market_worthy"`
	Confidence    float64  `json:"confidence"`
	Reason        string   `json:"reason,omitempty"`
	LLMRequestID  string   `json:"llm_request_id,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Candidates records the extractor's verdict on one raw news item.
// POST /api/worker/candidates
func (h *WorkerHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	var req candidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}

	c, err := h.svc.ReportCandidate(r.Context(), lifecycle.CandidateInput{
		ProposalID:    req.ProposalID,
		NewsRef:       req.NewsRef,
		Text:          req.Text,
		CategoryHint:  req.CategoryHint,
		Entities:      req.Entities,
		EventType:     req.EventType,
		MarketWorthy:  req.MarketWorthy,
		Confidence:    req.Confidence,
		Reason:        req.Reason,
		LLMRequestID:  req.LLMRequestID,
		CorrelationID: req.CorrelationID,
	}, actor(r))
	h.report("candidate", err)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if c == nil {
		writeData(w, http.StatusOK, map[string]any{"market_worthy": false})
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"candidate_id":  c.ID,
		"market_worthy": true,
	})
}

type draftRequest struct {
	CandidateID   string                 `json:"candidate_id"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description,omitempty"`
	Category      string                 `json:"category,omitempty"`
	Rules         domain.ResolutionRules `json:"rules"`
	Confidence    float64                `json:"confidence"`
	LLMRequestID  string                 `json:"llm_request_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// Drafts records the generator's market draft for a candidate.
// POST /api/worker/drafts
func (h *WorkerHandler) Drafts(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}

	m, err := h.svc.ReportDraft(r.Context(), lifecycle.DraftInput{
		CandidateID:   req.CandidateID,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Rules:         req.Rules,
		Confidence:    req.Confidence,
		LLMRequestID:  req.LLMRequestID,
		CorrelationID: req.CorrelationID,
	}, actor(r))
	h.report("draft", err)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"market_id": m.ID,
		"status":    string(m.Status),
	})
}

type validationRequest struct {
	MarketID      string  `json:"market_id"`
	Decision      string  `json:"decision"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning,omitempty"`
	LLMRequestID  string  `json:"llm_request_id,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// Validations records the validator's verdict on a draft market.
// POST /api/worker/validations
func (h *WorkerHandler) Validations(w http.ResponseWriter, r *http.Request) {
	var req validationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}

	err := h.svc.ReportValidation(r.Context(), lifecycle.ValidationInput{
		MarketID:      req.MarketID,
		Decision:      req.Decision,
		Confidence:    req.Confidence,
		Reasoning:     req.Reasoning,
		LLMRequestID:  req.LLMRequestID,
		CorrelationID: req.CorrelationID,
	}, actor(r))
	h.report("validation", err)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"market_id": req.MarketID})
}

type publishedRequest struct {
	MarketAddress string `json:"market_address"`
	TxSignature   string `json:"tx_signature,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Published confirms a market's on-chain publication.
// POST /api/worker/markets/{id}/published
func (h *WorkerHandler) Published(w http.ResponseWriter, r *http.Request) {
	var req publishedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}

	err := h.svc.ReportPublished(r.Context(), lifecycle.PublishedInput{
		MarketID:      r.PathValue("id"),
		MarketAddress: req.MarketAddress,
		TxSignature:   req.TxSignature,
		CorrelationID: req.CorrelationID,
	}, actor(r))
	h.report("published", err)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"market_id": r.PathValue("id")})
}

type resolutionRequest struct {
	MarketID         string          `json:"market_id"`
	FinalResult      string          `json:"final_result"`
	Source           string          `json:"source"`
	EvidenceRaw      json.RawMessage `json:"evidence_raw"`
	CriteriaMet      map[string]bool `json:"criteria_met,omitempty"`
	CriteriaExcluded map[string]bool `json:"criteria_excluded,omitempty"`
	LLMRequestID     string          `json:"llm_request_id,omitempty"`
	CorrelationID    string          `json:"correlation_id,omitempty"`
}

// Resolutions records the resolver's outcome determination and opens the
// dispute window.
// POST /api/worker/resolutions
func (h *WorkerHandler) Resolutions(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}

	res, err := h.svc.ReportResolution(r.Context(), lifecycle.ResolutionInput{
		MarketID:         req.MarketID,
		FinalResult:      domain.ResolutionResult(req.FinalResult),
		Source:           req.Source,
		EvidenceRaw:      []byte(req.EvidenceRaw),
		CriteriaMet:      req.CriteriaMet,
		CriteriaExcluded: req.CriteriaExcluded,
		LLMRequestID:     req.LLMRequestID,
		CorrelationID:    req.CorrelationID,
	}, actor(r))
	h.report("resolution", err)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"resolution_id":      res.ID,
		"evidence_hash":      res.EvidenceHash,
		"dispute_window_end": res.DisputeWindowEnd.UTC().Format(time.RFC3339),
	})
}

type disputeReviewRequest struct {
	Decision      string  `json:"decision"`
	NewResult     string  `json:"new_result,omitempty"`
	Reasoning     string  `json:"reasoning,omitempty"`
	Confidence    float64 `json:"confidence"`
	LLMRequestID  string  `json:"llm_request_id,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// DisputeReview records the dispute agent's adjudication.
// POST /api/worker/disputes/{id}/review
func (h *WorkerHandler) DisputeReview(w http.ResponseWriter, r *http.Request) {
	var req disputeReviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}

	err := h.svc.ReportDisputeReview(r.Context(), lifecycle.DisputeReviewInput{
		DisputeID:     r.PathValue("id"),
		Decision:      domain.DisputeStatus(req.Decision),
		NewResult:     domain.ResolutionResult(req.NewResult),
		Reasoning:     req.Reasoning,
		Confidence:    req.Confidence,
		LLMRequestID:  req.LLMRequestID,
		CorrelationID: req.CorrelationID,
	}, actor(r))
	h.report("dispute_review", err)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"dispute_id": r.PathValue("id")})
}
