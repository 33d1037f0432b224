package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/lifecycle"
	"github.com/quorumlabs/marketforge/internal/metrics"
	"github.com/quorumlabs/marketforge/internal/safety"
	"github.com/quorumlabs/marketforge/internal/server/middleware"
)

// maxProposalText caps submission size before any AI model sees it.
const maxProposalText = 10_000

// ProposalHandler serves the public proposal and dispute surface.
type ProposalHandler struct {
	svc     *lifecycle.Service
	filter  *safety.Filter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProposalHandler creates the handler.
func NewProposalHandler(svc *lifecycle.Service, filter *safety.Filter, m *metrics.Metrics, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{
		svc:     svc,
		filter:  filter,
		metrics: m,
		logger:  logger.With(slog.String("handler", "proposals")),
	}
}

type submitRequest struct {
	Text         string `json:"text"`
	CategoryHint string `json:"category_hint,omitempty"`
	Submitter    string `json:"submitter,omitempty"`
}

type proposalResponse struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	CategoryHint string         `json:"category_hint,omitempty"`
	ReviewReason string         `json:"review_reason,omitempty"`
	DraftMarket  *marketSummary `json:"draft_market,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// marketSummary is the slice of a generated market a submitter can see
// while polling their proposal.
type marketSummary struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	MarketAddress string `json:"market_address,omitempty"`
	TxSignature   string `json:"tx_signature,omitempty"`
}

func toProposalResponse(p *domain.Proposal) proposalResponse {
	return proposalResponse{
		ID:           p.ID,
		Status:       string(p.Status),
		CategoryHint: p.CategoryHint,
		ReviewReason: p.ReviewReason,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// Submit accepts a news text proposal. The safety filter runs before
// anything is persisted; blocked content never reaches the database or an
// AI model.
// POST /api/proposals
func (h *ProposalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}
	if len(req.Text) < 10 || len(req.Text) > maxProposalText {
		writeError(w, http.StatusBadRequest, "invalid_request", "text must be 10 to 10000 characters",
			map[string]any{"field": "text"})
		return
	}

	verdict, err := h.filter.CheckAll(r.Context(),
		map[string]string{"text": req.Text, "category_hint": req.CategoryHint},
		[]string{"text", "category_hint"})
	if err != nil {
		// Classifier outage fails closed into human review, not open.
		h.logger.Warn("safety classifier unavailable, failing closed",
			slog.String("error", err.Error()),
		)
	}
	if verdict.Blocked {
		if h.metrics != nil {
			h.metrics.SafetyBlocked.WithLabelValues(string(verdict.Category)).Inc()
		}
		writeError(w, http.StatusBadRequest, "unsafe_content",
			"submission rejected by content safety filter",
			map[string]any{"field": verdict.Field})
		return
	}

	in := lifecycle.SubmitInput{
		Text:          req.Text,
		CategoryHint:  req.CategoryHint,
		Submitter:     req.Submitter,
		CorrelationID: middleware.CorrelationIDFrom(r.Context()),
	}
	if verdict.NeedsReview {
		// A review verdict holds the proposal for a human regardless of
		// what the extraction stage would have scored it.
		in.NeedsReview = true
		in.ReviewReason = "flagged by content safety classifier"
	}
	p, err := h.svc.SubmitProposal(r.Context(), in)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if verdict.NeedsReview {
		h.logger.Info("proposal flagged for review by safety tier 2",
			slog.String("proposal_id", p.ID),
		)
	}
	writeData(w, http.StatusCreated, toProposalResponse(p))
}

// Get returns proposal status for polling submitters, with the generated
// market embedded once extraction has produced one.
// GET /api/proposals/{id}
func (h *ProposalHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	resp := toProposalResponse(p)
	m, err := h.svc.MarketForProposal(r.Context(), p.ID)
	switch {
	case err == nil:
		resp.DraftMarket = &marketSummary{
			ID:            m.ID,
			Status:        string(m.Status),
			MarketAddress: m.MarketAddress,
			TxSignature:   m.TxSignature,
		}
	case !errors.Is(err, domain.ErrNotFound):
		writeDomainError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

type disputeRequest struct {
	Disputer     string   `json:"disputer,omitempty"`
	Reason       string   `json:"reason"`
	EvidenceURLs []string `json:"evidence_urls,omitempty"`
}

// Dispute contests a resolution inside its 24-hour window. Dispute reasons
// pass through the same safety filter as proposals since they are read by
// the dispute agent.
// POST /api/resolutions/{id}/dispute
func (h *ProposalHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", nil)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "reason is required",
			map[string]any{"field": "reason"})
		return
	}

	verdict, err := h.filter.Check(r.Context(), "reason", req.Reason)
	if err != nil {
		h.logger.Warn("safety classifier unavailable, failing closed",
			slog.String("error", err.Error()),
		)
	}
	if verdict.Blocked {
		if h.metrics != nil {
			h.metrics.SafetyBlocked.WithLabelValues(string(verdict.Category)).Inc()
		}
		writeError(w, http.StatusBadRequest, "unsafe_content",
			"dispute rejected by content safety filter",
			map[string]any{"field": verdict.Field})
		return
	}

	d, err := h.svc.OpenDispute(r.Context(), lifecycle.DisputeInput{
		ResolutionID: r.PathValue("id"),
		Disputer:     req.Disputer,
		Reason:       req.Reason,
		EvidenceURLs: req.EvidenceURLs,
		NeedsReview:  verdict.NeedsReview,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusCreated, map[string]any{
		"id":            d.ID,
		"resolution_id": d.ResolutionID,
		"status":        string(d.Status),
		"created_at":    d.CreatedAt,
	})
}
