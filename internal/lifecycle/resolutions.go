package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// ResolutionInput is the resolver worker's outcome determination.
type ResolutionInput struct {
	MarketID         string
	FinalResult      domain.ResolutionResult
	Source           string
	EvidenceRaw      []byte
	CriteriaMet      map[string]bool
	CriteriaExcluded map[string]bool
	LLMRequestID     string
	CorrelationID    string
}

// ReportResolution records a market outcome and opens its dispute window.
//
// The market transition runs first: it is the conditional write that
// serializes concurrent resolver reports. Only the winner reaches the
// resolution insert, so a create failure there means local fault, and the
// market is reverted best-effort so a redelivery can retry.
func (s *Service) ReportResolution(ctx context.Context, in ResolutionInput, actor string) (*domain.Resolution, error) {
	if !in.FinalResult.Valid() {
		return nil, fmt.Errorf("lifecycle: final_result must be YES or NO: %w", domain.ErrValidation)
	}
	if in.Source == "" || len(in.EvidenceRaw) == 0 {
		return nil, fmt.Errorf("lifecycle: source and evidence required: %w", domain.ErrValidation)
	}
	m, err := s.markets.GetByID(ctx, in.MarketID)
	if err != nil {
		return nil, err
	}
	if !sourceAllowed(m.Rules.AllowedSources, in.Source) {
		return nil, fmt.Errorf("lifecycle: source %q not in allowed sources: %w", in.Source, domain.ErrValidation)
	}

	if err := s.markets.UpdateStatus(ctx, in.MarketID,
		[]domain.MarketStatus{domain.MarketStatusActive, domain.MarketStatusResolving},
		domain.MarketStatusResolved); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	hash := HashEvidence(in.EvidenceRaw)
	r := domain.Resolution{
		ID:               uuid.New().String(),
		MarketID:         in.MarketID,
		FinalResult:      in.FinalResult,
		Source:           in.Source,
		EvidenceHash:     hash,
		CriteriaMet:      in.CriteriaMet,
		CriteriaExcluded: in.CriteriaExcluded,
		Status:           domain.ResolutionStatusResolved,
		DisputeWindowEnd: now.Add(domain.DisputeWindow),
		ResolvedBy:       actor,
		ResolvedAt:       now,
		UpdatedAt:        now,
	}
	if err := s.resolutions.Create(ctx, r); err != nil {
		if rerr := s.markets.UpdateStatus(ctx, in.MarketID,
			[]domain.MarketStatus{domain.MarketStatusResolved},
			domain.MarketStatusResolving); rerr != nil {
			s.logger.Error("lifecycle: market revert after resolution create failed",
				slog.String("market_id", in.MarketID),
				slog.String("error", rerr.Error()),
			)
		}
		return nil, err
	}

	if s.archiver != nil {
		if loc, aerr := s.archiver.Archive(ctx, in.MarketID, hash, in.EvidenceRaw); aerr != nil {
			s.logger.Warn("lifecycle: evidence archive failed",
				slog.String("market_id", in.MarketID),
				slog.String("error", aerr.Error()),
			)
		} else {
			s.logger.Debug("lifecycle: evidence archived", slog.String("location", loc))
		}
	}

	corr := correlationOrNew(in.CorrelationID)
	s.appendAudit(ctx, domain.AuditEntry{
		Action:     "market.resolved",
		EntityType: "resolution",
		EntityID:   r.ID,
		Actor:      actor,
		Details: map[string]any{
			"market_id":          in.MarketID,
			"final_result":       string(in.FinalResult),
			"source":             in.Source,
			"evidence_hash":      hash,
			"dispute_window_end": r.DisputeWindowEnd,
		},
		LLMRequestID:  in.LLMRequestID,
		CorrelationID: corr,
	})
	s.emit("market", in.MarketID, string(domain.MarketStatusActive), string(domain.MarketStatusResolved), actor)
	return &r, nil
}

func sourceAllowed(allowed []domain.ResolutionSource, source string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a.URL == source {
			return true
		}
	}
	return false
}

// GetResolution returns a resolution by id.
func (s *Service) GetResolution(ctx context.Context, id string) (*domain.Resolution, error) {
	r, err := s.resolutions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DisputeInput is a public challenge to a resolution. NeedsReview marks a
// reason the safety classifier flagged: the dispute opens directly in
// escalated and never reaches the dispute agent.
type DisputeInput struct {
	ResolutionID string
	Disputer     string
	Reason       string
	EvidenceURLs []string
	NeedsReview  bool
}

// OpenDispute contests a resolution inside its dispute window. The market
// moves resolved → disputed, which blocks finalization until the dispute is
// decided. One open dispute per resolution.
func (s *Service) OpenDispute(ctx context.Context, in DisputeInput) (*domain.Dispute, error) {
	if in.Reason == "" {
		return nil, fmt.Errorf("lifecycle: dispute reason required: %w", domain.ErrValidation)
	}
	r, err := s.resolutions.GetByID(ctx, in.ResolutionID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if r.Status != domain.ResolutionStatusResolved {
		return nil, fmt.Errorf("lifecycle: resolution already finalized: %w", domain.ErrInvalidStatus)
	}
	if now.After(r.DisputeWindowEnd) {
		return nil, fmt.Errorf("lifecycle: dispute window closed at %s: %w",
			r.DisputeWindowEnd.Format("2006-01-02T15:04:05Z07:00"), domain.ErrInvalidStatus)
	}
	open, err := s.disputes.HasOpen(ctx, in.ResolutionID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, fmt.Errorf("lifecycle: resolution already disputed: %w", domain.ErrDuplicate)
	}

	if err := s.markets.UpdateStatus(ctx, r.MarketID,
		[]domain.MarketStatus{domain.MarketStatusResolved},
		domain.MarketStatusDisputed); err != nil {
		return nil, err
	}

	status := domain.DisputeStatusPending
	if in.NeedsReview {
		status = domain.DisputeStatusEscalated
	}
	d := domain.Dispute{
		ID:           uuid.New().String(),
		ResolutionID: in.ResolutionID,
		Disputer:     in.Disputer,
		Reason:       in.Reason,
		EvidenceURLs: in.EvidenceURLs,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		if rerr := s.markets.UpdateStatus(ctx, r.MarketID,
			[]domain.MarketStatus{domain.MarketStatusDisputed},
			domain.MarketStatusResolved); rerr != nil {
			s.logger.Error("lifecycle: market revert after dispute create failed",
				slog.String("market_id", r.MarketID),
				slog.String("error", rerr.Error()),
			)
		}
		return nil, err
	}

	corr := uuid.New().String()
	if in.NeedsReview {
		s.notify(ctx, "dispute needs human review",
			fmt.Sprintf("dispute %s on resolution %s flagged at submission", d.ID, in.ResolutionID))
	} else if err := s.publish(ctx, domain.QueueDisputes, domain.DisputeMessage{
		DisputeID:     d.ID,
		ResolutionID:  in.ResolutionID,
		MarketID:      r.MarketID,
		Reason:        in.Reason,
		EvidenceURLs:  in.EvidenceURLs,
		FinalResult:   r.FinalResult,
		Source:        r.Source,
		CorrelationID: corr,
	}); err != nil {
		s.logger.Error("lifecycle: dispute enqueue failed",
			slog.String("dispute_id", d.ID),
			slog.String("error", err.Error()),
		)
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:        "dispute.opened",
		EntityType:    "dispute",
		EntityID:      d.ID,
		Actor:         in.Disputer,
		Details:       map[string]any{"resolution_id": in.ResolutionID, "reason": in.Reason, "flagged": in.NeedsReview},
		CorrelationID: corr,
	})
	s.emit("dispute", d.ID, "", string(status), in.Disputer)
	return &d, nil
}

// DisputeReviewInput is the dispute agent's (or an admin's) adjudication.
type DisputeReviewInput struct {
	DisputeID     string
	Decision      domain.DisputeStatus // upheld, overturned or escalated
	NewResult     domain.ResolutionResult
	Reasoning     string
	Confidence    float64
	LLMRequestID  string
	CorrelationID string
}

// ReportDisputeReview applies a dispute decision and propagates it:
//
//   - upheld: the original result stands; resolution and market finalize.
//   - overturned: requires a valid NewResult; the resolution's result is
//     rewritten, both finalize, and a resolution_update publish message
//     carries the correction to the chain.
//   - escalated: no state change beyond the dispute itself; a human is
//     notified and decides through AdminResolveDispute.
func (s *Service) ReportDisputeReview(ctx context.Context, in DisputeReviewInput, actor string) error {
	switch in.Decision {
	case domain.DisputeStatusUpheld, domain.DisputeStatusOverturned, domain.DisputeStatusEscalated:
	default:
		return fmt.Errorf("lifecycle: decision must be upheld, overturned or escalated: %w", domain.ErrValidation)
	}
	if in.Decision == domain.DisputeStatusOverturned && !in.NewResult.Valid() {
		return fmt.Errorf("lifecycle: overturned requires new_result YES or NO: %w", domain.ErrValidation)
	}

	d, err := s.disputes.GetByID(ctx, in.DisputeID)
	if err != nil {
		return err
	}
	r, err := s.resolutions.GetByID(ctx, d.ResolutionID)
	if err != nil {
		return err
	}

	// Claim the dispute before deciding; a concurrent reviewer loses here.
	if err := s.disputes.UpdateStatus(ctx, in.DisputeID,
		[]domain.DisputeStatus{domain.DisputeStatusPending},
		domain.DisputeStatusReviewing, "", nil); err != nil && !errors.Is(err, domain.ErrInvalidStatus) {
		return err
	}

	review := &domain.AIReview{
		Decision:   string(in.Decision),
		Reasoning:  in.Reasoning,
		Confidence: in.Confidence,
		Reviewer:   actor,
	}
	newResult := domain.ResolutionResult("")
	if in.Decision == domain.DisputeStatusOverturned {
		newResult = in.NewResult
	}
	if err := s.disputes.UpdateStatus(ctx, in.DisputeID,
		[]domain.DisputeStatus{domain.DisputeStatusReviewing},
		in.Decision, newResult, review); err != nil {
		return err
	}

	corr := correlationOrNew(in.CorrelationID)
	switch in.Decision {
	case domain.DisputeStatusUpheld:
		if err := s.finalizeAfterDispute(ctx, r, "", actor); err != nil {
			return err
		}

	case domain.DisputeStatusOverturned:
		if err := s.finalizeAfterDispute(ctx, r, in.NewResult, actor); err != nil {
			return err
		}
		if err := s.publish(ctx, domain.QueueMarketsPublish, domain.PublishMessage{
			Kind:          domain.PublishKindResolutionUpdate,
			MarketID:      r.MarketID,
			NewResult:     in.NewResult,
			CorrelationID: corr,
		}); err != nil {
			s.logger.Error("lifecycle: resolution update enqueue failed",
				slog.String("market_id", r.MarketID),
				slog.String("error", err.Error()),
			)
		}

	case domain.DisputeStatusEscalated:
		s.notify(ctx, "dispute escalated",
			fmt.Sprintf("dispute %s on resolution %s (market %s): %s",
				in.DisputeID, d.ResolutionID, r.MarketID, in.Reasoning))
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:     "dispute.reviewed",
		EntityType: "dispute",
		EntityID:   in.DisputeID,
		Actor:      actor,
		Details: map[string]any{
			"decision":   string(in.Decision),
			"new_result": string(newResult),
			"confidence": in.Confidence,
			"reasoning":  in.Reasoning,
		},
		LLMRequestID:  in.LLMRequestID,
		CorrelationID: corr,
	})
	s.emit("dispute", in.DisputeID, string(domain.DisputeStatusReviewing), string(in.Decision), actor)
	return nil
}

// finalizeAfterDispute finalizes the resolution (optionally rewriting the
// result) and moves the market disputed → finalized.
func (s *Service) finalizeAfterDispute(ctx context.Context, r domain.Resolution, newResult domain.ResolutionResult, actor string) error {
	if err := s.resolutions.Finalize(ctx, r.ID, newResult); err != nil {
		return err
	}
	if err := s.markets.UpdateStatus(ctx, r.MarketID,
		[]domain.MarketStatus{domain.MarketStatusDisputed},
		domain.MarketStatusFinalized); err != nil {
		return err
	}
	s.emit("market", r.MarketID, string(domain.MarketStatusDisputed), string(domain.MarketStatusFinalized), actor)
	return nil
}

// AdminResolveDispute is the human decision on an escalated dispute. Only
// upheld or overturned are accepted; escalating an escalated dispute is
// meaningless.
func (s *Service) AdminResolveDispute(ctx context.Context, disputeID string, decision domain.DisputeStatus, newResult domain.ResolutionResult, adminAddr, note string) error {
	if decision != domain.DisputeStatusUpheld && decision != domain.DisputeStatusOverturned {
		return fmt.Errorf("lifecycle: admin decision must be upheld or overturned: %w", domain.ErrValidation)
	}
	if decision == domain.DisputeStatusOverturned && !newResult.Valid() {
		return fmt.Errorf("lifecycle: overturned requires new_result YES or NO: %w", domain.ErrValidation)
	}

	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return err
	}
	r, err := s.resolutions.GetByID(ctx, d.ResolutionID)
	if err != nil {
		return err
	}

	review := &domain.AIReview{
		Decision:  string(decision),
		Reasoning: note,
		Reviewer:  adminAddr,
	}
	nr := domain.ResolutionResult("")
	if decision == domain.DisputeStatusOverturned {
		nr = newResult
	}
	if err := s.disputes.UpdateStatus(ctx, disputeID,
		[]domain.DisputeStatus{domain.DisputeStatusEscalated},
		decision, nr, review); err != nil {
		return err
	}
	if err := s.finalizeAfterDispute(ctx, r, nr, adminAddr); err != nil {
		return err
	}
	if decision == domain.DisputeStatusOverturned {
		if err := s.publish(ctx, domain.QueueMarketsPublish, domain.PublishMessage{
			Kind:          domain.PublishKindResolutionUpdate,
			MarketID:      r.MarketID,
			NewResult:     newResult,
			CorrelationID: uuid.New().String(),
		}); err != nil {
			s.logger.Error("lifecycle: resolution update enqueue failed",
				slog.String("market_id", r.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.appendAudit(ctx, domain.AuditEntry{
		Action:     "dispute.admin_resolved",
		EntityType: "dispute",
		EntityID:   disputeID,
		Actor:      adminAddr,
		Details: map[string]any{
			"decision":   string(decision),
			"new_result": string(nr),
			"note":       note,
		},
	})
	s.emit("dispute", disputeID, string(domain.DisputeStatusEscalated), string(decision), adminAddr)
	return nil
}

// ListDisputes returns disputes in a given status, newest first.
func (s *Service) ListDisputes(ctx context.Context, status domain.DisputeStatus, opts domain.ListOpts) ([]domain.Dispute, error) {
	return s.disputes.ListByStatus(ctx, status, opts)
}

// ListAudit returns audit entries for the admin surface.
func (s *Service) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.audit.List(ctx, opts)
}
