package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// SubmitInput is a public submission of raw news text. NeedsReview marks
// content the safety classifier flagged for human review: the proposal is
// persisted but held out of the pipeline until an admin releases it.
type SubmitInput struct {
	Text          string
	CategoryHint  string
	Submitter     string
	NeedsReview   bool
	ReviewReason  string
	CorrelationID string
}

// SubmitProposal persists a new proposal and enqueues it for extraction.
// Duplicate text (same normalized digest) returns domain.ErrDuplicate.
// Flagged submissions land in needs_human instead of entering the queue.
func (s *Service) SubmitProposal(ctx context.Context, in SubmitInput) (*domain.Proposal, error) {
	if len(in.Text) < 10 {
		return nil, fmt.Errorf("lifecycle: text too short: %w", domain.ErrValidation)
	}
	status := domain.ProposalStatusSubmitted
	if in.NeedsReview {
		status = domain.ProposalStatusNeedsHuman
	}
	now := s.now().UTC()
	p := domain.Proposal{
		ID:           uuid.New().String(),
		Text:         in.Text,
		TextHash:     HashText(in.Text),
		CategoryHint: in.CategoryHint,
		Submitter:    in.Submitter,
		Status:       status,
		ReviewReason: in.ReviewReason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.proposals.Create(ctx, p); err != nil {
		return nil, err
	}

	corr := correlationOrNew(in.CorrelationID)
	if in.NeedsReview {
		s.notify(ctx, "proposal needs human review",
			fmt.Sprintf("proposal %s flagged at submission: %s", p.ID, in.ReviewReason))
	} else {
		msg := domain.NewsRawMessage{
			ProposalID:    p.ID,
			Text:          p.Text,
			CategoryHint:  p.CategoryHint,
			CorrelationID: corr,
		}
		if err := s.publish(ctx, domain.QueueNewsRaw, msg); err != nil {
			// The proposal row exists; the stale-submission sweep requeues it.
			s.logger.Error("lifecycle: submit enqueue failed",
				slog.String("proposal_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:        "proposal.submitted",
		EntityType:    "proposal",
		EntityID:      p.ID,
		Actor:         in.Submitter,
		Details:       map[string]any{"status": string(status), "flagged": in.NeedsReview},
		CorrelationID: corr,
	})
	s.emit("proposal", p.ID, "", string(status), in.Submitter)
	return &p, nil
}

// GetProposal returns a proposal by id.
func (s *Service) GetProposal(ctx context.Context, id string) (*domain.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarketForProposal returns the market generated from a proposal, or
// ErrNotFound when extraction has not produced one yet.
func (s *Service) MarketForProposal(ctx context.Context, proposalID string) (*domain.Market, error) {
	m, err := s.markets.GetByProposalID(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListProposals returns proposals in a given status, newest first.
func (s *Service) ListProposals(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]domain.Proposal, error) {
	return s.proposals.ListByStatus(ctx, status, opts)
}

// CandidateInput is the extraction worker's report.
type CandidateInput struct {
	ProposalID    string
	NewsRef       string
	Text          string
	CategoryHint  string
	Entities      []string
	EventType     string
	MarketWorthy  bool
	Confidence    float64
	Reason        string
	LLMRequestID  string
	CorrelationID string
}

// ReportCandidate moves a proposal from submitted to either processing (with
// a candidate row and a candidates-queue message) or rejected when the
// extractor found nothing market-worthy. Crawled news has no proposal, in
// which case only the candidate row is written.
func (s *Service) ReportCandidate(ctx context.Context, in CandidateInput, actor string) (*domain.Candidate, error) {
	corr := correlationOrNew(in.CorrelationID)

	if !in.MarketWorthy {
		if in.ProposalID == "" {
			return nil, nil
		}
		if err := s.proposals.UpdateStatus(ctx, in.ProposalID,
			[]domain.ProposalStatus{domain.ProposalStatusSubmitted, domain.ProposalStatusProcessing},
			domain.ProposalStatusRejected, in.Reason); err != nil {
			return nil, err
		}
		s.appendAudit(ctx, domain.AuditEntry{
			Action:        "proposal.rejected",
			EntityType:    "proposal",
			EntityID:      in.ProposalID,
			Actor:         actor,
			Details:       map[string]any{"reason": in.Reason},
			LLMRequestID:  in.LLMRequestID,
			CorrelationID: corr,
		})
		s.emit("proposal", in.ProposalID, string(domain.ProposalStatusSubmitted), string(domain.ProposalStatusRejected), actor)
		return nil, nil
	}

	if in.ProposalID != "" {
		if err := s.proposals.UpdateStatus(ctx, in.ProposalID,
			[]domain.ProposalStatus{domain.ProposalStatusSubmitted},
			domain.ProposalStatusProcessing, ""); err != nil {
			return nil, err
		}
	}

	c := domain.Candidate{
		ID:           uuid.New().String(),
		NewsRef:      in.NewsRef,
		ProposalID:   in.ProposalID,
		Entities:     in.Entities,
		EventType:    in.EventType,
		MarketWorthy: true,
		Confidence:   in.Confidence,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.candidates.Create(ctx, c); err != nil {
		return nil, err
	}

	msg := domain.CandidateMessage{
		CandidateID:   c.ID,
		ProposalID:    in.ProposalID,
		Text:          in.Text,
		CategoryHint:  in.CategoryHint,
		CorrelationID: corr,
	}
	if err := s.publish(ctx, domain.QueueCandidates, msg); err != nil {
		s.logger.Error("lifecycle: candidate enqueue failed",
			slog.String("candidate_id", c.ID),
			slog.String("error", err.Error()),
		)
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:        "candidate.extracted",
		EntityType:    "candidate",
		EntityID:      c.ID,
		Actor:         actor,
		Details:       map[string]any{"event_type": in.EventType, "confidence": in.Confidence},
		LLMRequestID:  in.LLMRequestID,
		CorrelationID: corr,
	})
	if in.ProposalID != "" {
		s.emit("proposal", in.ProposalID, string(domain.ProposalStatusSubmitted), string(domain.ProposalStatusProcessing), actor)
	}
	return &c, nil
}

// DraftInput is the generator worker's report.
type DraftInput struct {
	CandidateID   string
	Title         string
	Description   string
	Category      string
	Rules         domain.ResolutionRules
	Confidence    float64
	LLMRequestID  string
	CorrelationID string
}

// ReportDraft consumes a candidate exactly once and creates a draft market,
// then enqueues it for validation. A second draft for the same candidate
// fails the Consume conditional write with domain.ErrInvalidStatus.
func (s *Service) ReportDraft(ctx context.Context, in DraftInput, actor string) (*domain.Market, error) {
	if in.Title == "" || in.Rules.ExactQuestion == "" {
		return nil, fmt.Errorf("lifecycle: draft title and resolution rules required: %w", domain.ErrValidation)
	}
	if in.Rules.Expiry.IsZero() || !in.Rules.Expiry.After(s.now()) {
		return nil, fmt.Errorf("lifecycle: resolution expiry must be in the future: %w", domain.ErrValidation)
	}

	c, err := s.candidates.GetByID(ctx, in.CandidateID)
	if err != nil {
		return nil, err
	}
	if err := s.candidates.Consume(ctx, in.CandidateID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m := domain.Market{
		ID:          uuid.New().String(),
		ProposalID:  c.ProposalID,
		CandidateID: c.ID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Rules:       in.Rules,
		Confidence:  in.Confidence,
		Status:      domain.MarketStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.markets.Create(ctx, m); err != nil {
		return nil, err
	}

	if c.ProposalID != "" {
		// The proposal now has a draft awaiting validation. Tolerant: a
		// crawled-news candidate or a replayed report has no row to move.
		if uerr := s.proposals.UpdateStatus(ctx, c.ProposalID,
			[]domain.ProposalStatus{domain.ProposalStatusProcessing},
			domain.ProposalStatusPendingReview, ""); uerr != nil && !errors.Is(uerr, domain.ErrInvalidStatus) {
			return nil, uerr
		}
	}

	corr := correlationOrNew(in.CorrelationID)
	msg := domain.DraftMessage{
		MarketID:      m.ID,
		ProposalID:    c.ProposalID,
		Title:         m.Title,
		Description:   m.Description,
		Category:      m.Category,
		Rules:         m.Rules,
		CorrelationID: corr,
	}
	if err := s.publish(ctx, domain.QueueDraftsValidate, msg); err != nil {
		s.logger.Error("lifecycle: draft enqueue failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:        "market.drafted",
		EntityType:    "market",
		EntityID:      m.ID,
		Actor:         actor,
		Details:       map[string]any{"candidate_id": c.ID, "title": in.Title},
		LLMRequestID:  in.LLMRequestID,
		CorrelationID: corr,
	})
	s.emit("market", m.ID, "", string(domain.MarketStatusDraft), actor)
	return &m, nil
}

// ValidationInput is the validator worker's report.
type ValidationInput struct {
	MarketID      string
	Decision      string // approve | reject | escalate
	Confidence    float64
	Reasoning     string
	LLMRequestID  string
	CorrelationID string
}

// ReportValidation applies the validator verdict to a draft market and its
// proposal. Approvals below the confidence threshold are downgraded to
// escalate rather than trusted.
func (s *Service) ReportValidation(ctx context.Context, in ValidationInput, actor string) error {
	m, err := s.markets.GetByID(ctx, in.MarketID)
	if err != nil {
		return err
	}
	corr := correlationOrNew(in.CorrelationID)

	decision := in.Decision
	if decision == "approve" && in.Confidence < s.cfg.ConfidenceThreshold {
		decision = "escalate"
	}

	switch decision {
	case "approve":
		if err := s.markets.UpdateStatus(ctx, in.MarketID,
			[]domain.MarketStatus{domain.MarketStatusDraft},
			domain.MarketStatusPendingReview); err != nil {
			return err
		}
		if m.ProposalID != "" {
			if err := s.proposals.UpdateStatus(ctx, m.ProposalID,
				[]domain.ProposalStatus{domain.ProposalStatusPendingReview, domain.ProposalStatusProcessing},
				domain.ProposalStatusApproved, ""); err != nil {
				return err
			}
		}
		if err := s.publish(ctx, domain.QueueMarketsPublish, domain.PublishMessage{
			Kind:          domain.PublishKindCreate,
			MarketID:      in.MarketID,
			CorrelationID: corr,
		}); err != nil {
			s.logger.Error("lifecycle: publish enqueue failed",
				slog.String("market_id", in.MarketID),
				slog.String("error", err.Error()),
			)
		}
		s.emit("market", in.MarketID, string(domain.MarketStatusDraft), string(domain.MarketStatusPendingReview), actor)

	case "reject":
		if err := s.markets.UpdateStatus(ctx, in.MarketID,
			[]domain.MarketStatus{domain.MarketStatusDraft},
			domain.MarketStatusFailed); err != nil {
			return err
		}
		if m.ProposalID != "" {
			if err := s.proposals.UpdateStatus(ctx, m.ProposalID,
				[]domain.ProposalStatus{domain.ProposalStatusPendingReview, domain.ProposalStatusProcessing},
				domain.ProposalStatusRejected, in.Reasoning); err != nil {
				return err
			}
		}
		s.emit("market", in.MarketID, string(domain.MarketStatusDraft), string(domain.MarketStatusFailed), actor)

	case "escalate":
		if m.ProposalID != "" {
			if err := s.proposals.UpdateStatus(ctx, m.ProposalID,
				[]domain.ProposalStatus{domain.ProposalStatusPendingReview, domain.ProposalStatusProcessing},
				domain.ProposalStatusNeedsHuman, in.Reasoning); err != nil {
				return err
			}
		}
		s.notify(ctx, "proposal needs human review",
			fmt.Sprintf("proposal %s (market %s): %s", m.ProposalID, in.MarketID, in.Reasoning))
		s.emit("proposal", m.ProposalID, string(domain.ProposalStatusPendingReview), string(domain.ProposalStatusNeedsHuman), actor)

	default:
		return fmt.Errorf("lifecycle: unknown validation decision %q: %w", in.Decision, domain.ErrValidation)
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:     "market.validated",
		EntityType: "market",
		EntityID:   in.MarketID,
		Actor:      actor,
		Details: map[string]any{
			"decision":   decision,
			"reported":   in.Decision,
			"confidence": in.Confidence,
			"reasoning":  in.Reasoning,
		},
		LLMRequestID:  in.LLMRequestID,
		CorrelationID: corr,
	})
	return nil
}

// PublishedInput is the publisher worker's confirmation that a market exists
// on chain.
type PublishedInput struct {
	MarketID      string
	MarketAddress string
	TxSignature   string
	CorrelationID string
}

// ReportPublished binds the on-chain address to the market and moves both
// market and proposal into their live states. A replay with the same address
// is absorbed by the store; a different address surfaces as
// domain.ErrAddressMismatch.
func (s *Service) ReportPublished(ctx context.Context, in PublishedInput, actor string) error {
	if in.MarketAddress == "" {
		return fmt.Errorf("lifecycle: market_address required: %w", domain.ErrValidation)
	}
	m, err := s.markets.GetByID(ctx, in.MarketID)
	if err != nil {
		return err
	}
	if err := s.markets.Publish(ctx, in.MarketID, in.MarketAddress, in.TxSignature); err != nil {
		return err
	}
	if m.ProposalID != "" {
		if err := s.proposals.UpdateStatus(ctx, m.ProposalID,
			[]domain.ProposalStatus{domain.ProposalStatusApproved},
			domain.ProposalStatusPublished, ""); err != nil && !errors.Is(err, domain.ErrInvalidStatus) {
			return err
		}
	}

	corr := correlationOrNew(in.CorrelationID)
	s.appendAudit(ctx, domain.AuditEntry{
		Action:        "market.published",
		EntityType:    "market",
		EntityID:      in.MarketID,
		Actor:         actor,
		Details:       map[string]any{"address": in.MarketAddress, "tx": in.TxSignature},
		CorrelationID: corr,
	})
	s.emit("market", in.MarketID, string(domain.MarketStatusPendingReview), string(domain.MarketStatusActive), actor)
	if m.ProposalID != "" {
		s.emit("proposal", m.ProposalID, string(domain.ProposalStatusApproved), string(domain.ProposalStatusPublished), actor)
	}
	return nil
}

// AdminApprove releases a needs_human proposal back into the pipeline.
// With a draft market attached it re-enqueues the draft for publication;
// a proposal flagged before extraction re-enters the extraction queue.
func (s *Service) AdminApprove(ctx context.Context, proposalID, adminAddr, note string) error {
	m, err := s.markets.GetByProposalID(ctx, proposalID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.adminRelease(ctx, proposalID, adminAddr, note)
	}
	if err != nil {
		return err
	}

	if err := s.proposals.UpdateStatus(ctx, proposalID,
		[]domain.ProposalStatus{domain.ProposalStatusNeedsHuman, domain.ProposalStatusPendingReview},
		domain.ProposalStatusApproved, note); err != nil {
		return err
	}
	if uerr := s.markets.UpdateStatus(ctx, m.ID,
		[]domain.MarketStatus{domain.MarketStatusDraft},
		domain.MarketStatusPendingReview); uerr != nil && !errors.Is(uerr, domain.ErrInvalidStatus) {
		return uerr
	}
	if perr := s.publish(ctx, domain.QueueMarketsPublish, domain.PublishMessage{
		Kind:          domain.PublishKindCreate,
		MarketID:      m.ID,
		CorrelationID: uuid.New().String(),
	}); perr != nil {
		s.logger.Error("lifecycle: admin approve enqueue failed",
			slog.String("market_id", m.ID),
			slog.String("error", perr.Error()),
		)
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:     "proposal.admin_approved",
		EntityType: "proposal",
		EntityID:   proposalID,
		Actor:      adminAddr,
		Details:    map[string]any{"note": note},
	})
	s.emit("proposal", proposalID, string(domain.ProposalStatusNeedsHuman), string(domain.ProposalStatusApproved), adminAddr)
	return nil
}

// adminRelease handles approval of a proposal that was flagged before a
// draft existed: it goes back to submitted and re-enters extraction.
func (s *Service) adminRelease(ctx context.Context, proposalID, adminAddr, note string) error {
	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := s.proposals.UpdateStatus(ctx, proposalID,
		[]domain.ProposalStatus{domain.ProposalStatusNeedsHuman, domain.ProposalStatusPendingReview},
		domain.ProposalStatusSubmitted, note); err != nil {
		return err
	}

	corr := uuid.New().String()
	if perr := s.publish(ctx, domain.QueueNewsRaw, domain.NewsRawMessage{
		ProposalID:    p.ID,
		Text:          p.Text,
		CategoryHint:  p.CategoryHint,
		CorrelationID: corr,
	}); perr != nil {
		// The stale-submission sweep requeues it.
		s.logger.Error("lifecycle: admin release enqueue failed",
			slog.String("proposal_id", p.ID),
			slog.String("error", perr.Error()),
		)
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:        "proposal.admin_approved",
		EntityType:    "proposal",
		EntityID:      proposalID,
		Actor:         adminAddr,
		Details:       map[string]any{"note": note, "released_to": "extraction"},
		CorrelationID: corr,
	})
	s.emit("proposal", proposalID, string(domain.ProposalStatusNeedsHuman), string(domain.ProposalStatusSubmitted), adminAddr)
	return nil
}

// AdminReject terminally rejects a proposal under human review.
func (s *Service) AdminReject(ctx context.Context, proposalID, adminAddr, reason string) error {
	if err := s.proposals.UpdateStatus(ctx, proposalID,
		[]domain.ProposalStatus{
			domain.ProposalStatusNeedsHuman,
			domain.ProposalStatusPendingReview,
			domain.ProposalStatusSubmitted,
			domain.ProposalStatusProcessing,
		},
		domain.ProposalStatusRejected, reason); err != nil {
		return err
	}
	if m, err := s.markets.GetByProposalID(ctx, proposalID); err == nil {
		if uerr := s.markets.UpdateStatus(ctx, m.ID,
			[]domain.MarketStatus{domain.MarketStatusDraft, domain.MarketStatusPendingReview},
			domain.MarketStatusFailed); uerr != nil && !errors.Is(uerr, domain.ErrInvalidStatus) {
			return uerr
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:     "proposal.admin_rejected",
		EntityType: "proposal",
		EntityID:   proposalID,
		Actor:      adminAddr,
		Details:    map[string]any{"reason": reason},
	})
	s.emit("proposal", proposalID, string(domain.ProposalStatusNeedsHuman), string(domain.ProposalStatusRejected), adminAddr)
	return nil
}
