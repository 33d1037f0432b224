package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// Maintenance sweeps. These run from the scheduler worker, which serializes
// them across replicas with a distributed lock; the conditional writes below
// keep them harmless if two replicas ever sweep at once.

// FinalizeElapsed finalizes every resolution whose dispute window has passed
// without an open dispute. Returns the number finalized.
func (s *Service) FinalizeElapsed(ctx context.Context) (int, error) {
	now := s.now().UTC()
	elapsed, err := s.resolutions.ListWindowElapsed(ctx, now, domain.ListOpts{Limit: 100})
	if err != nil {
		return 0, err
	}
	done := 0
	for _, r := range elapsed {
		// Market first: a disputed market fails this write, which keeps the
		// resolution open for the dispute flow to finalize.
		if err := s.markets.UpdateStatus(ctx, r.MarketID,
			[]domain.MarketStatus{domain.MarketStatusResolved},
			domain.MarketStatusFinalized); err != nil {
			continue
		}
		if err := s.resolutions.Finalize(ctx, r.ID, ""); err != nil {
			s.logger.Error("lifecycle: finalize failed",
				slog.String("resolution_id", r.ID),
				slog.String("error", err.Error()),
			)
			if rerr := s.markets.UpdateStatus(ctx, r.MarketID,
				[]domain.MarketStatus{domain.MarketStatusFinalized},
				domain.MarketStatusResolved); rerr != nil {
				s.logger.Error("lifecycle: market revert after finalize failed",
					slog.String("market_id", r.MarketID),
					slog.String("error", rerr.Error()),
				)
			}
			continue
		}
		done++
		s.appendAudit(ctx, domain.AuditEntry{
			Action:     "resolution.finalized",
			EntityType: "resolution",
			EntityID:   r.ID,
			Actor:      "scheduler",
			Details:    map[string]any{"market_id": r.MarketID, "final_result": string(r.FinalResult)},
		})
		s.emit("market", r.MarketID, string(domain.MarketStatusResolved), string(domain.MarketStatusFinalized), "scheduler")
	}
	return done, nil
}

// SweepExpiredMarkets moves active markets past their resolution expiry into
// resolving and enqueues them for the resolver. Returns the number enqueued.
func (s *Service) SweepExpiredMarkets(ctx context.Context) (int, error) {
	now := s.now().UTC()
	expired, err := s.markets.ListExpired(ctx, now, domain.ListOpts{Limit: 100})
	if err != nil {
		return 0, err
	}
	done := 0
	for _, m := range expired {
		if err := s.markets.UpdateStatus(ctx, m.ID,
			[]domain.MarketStatus{domain.MarketStatusActive},
			domain.MarketStatusResolving); err != nil {
			continue
		}
		corr := uuid.New().String()
		if err := s.publish(ctx, domain.QueueMarketsResolve, domain.ResolveMessage{
			MarketID:      m.ID,
			Title:         m.Title,
			Rules:         m.Rules,
			CorrelationID: corr,
		}); err != nil {
			s.logger.Error("lifecycle: resolve enqueue failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		done++
		s.appendAudit(ctx, domain.AuditEntry{
			Action:        "market.resolution_due",
			EntityType:    "market",
			EntityID:      m.ID,
			Actor:         "scheduler",
			CorrelationID: corr,
		})
		s.emit("market", m.ID, string(domain.MarketStatusActive), string(domain.MarketStatusResolving), "scheduler")
	}
	return done, nil
}

// RequeueStaleSubmitted re-enqueues proposals that have sat in submitted
// longer than maxAge. Covers submissions whose best-effort enqueue failed;
// extraction consumers survive the occasional duplicate delivery because the
// submitted→processing write is conditional. The touch below resets the
// clock so one stuck proposal is not re-enqueued on every tick.
func (s *Service) RequeueStaleSubmitted(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	stale, err := s.proposals.ListByStatus(ctx, domain.ProposalStatusSubmitted, domain.ListOpts{
		Limit: 100,
		Until: &cutoff,
	})
	if err != nil {
		return 0, err
	}
	done := 0
	for _, p := range stale {
		if p.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.proposals.UpdateStatus(ctx, p.ID,
			[]domain.ProposalStatus{domain.ProposalStatusSubmitted},
			domain.ProposalStatusSubmitted, ""); err != nil {
			continue
		}
		corr := uuid.New().String()
		if err := s.publish(ctx, domain.QueueNewsRaw, domain.NewsRawMessage{
			ProposalID:    p.ID,
			Text:          p.Text,
			CategoryHint:  p.CategoryHint,
			CorrelationID: corr,
		}); err != nil {
			s.logger.Error("lifecycle: stale submission requeue failed",
				slog.String("proposal_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		done++
		s.appendAudit(ctx, domain.AuditEntry{
			Action:        "proposal.requeued",
			EntityType:    "proposal",
			EntityID:      p.ID,
			Actor:         "scheduler",
			CorrelationID: corr,
		})
	}
	return done, nil
}

// ExpireStaleProposals fails proposals stuck in processing longer than
// maxAge. Covers workers that died between claim and report.
func (s *Service) ExpireStaleProposals(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	n, err := s.proposals.ExpireProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.appendAudit(ctx, domain.AuditEntry{
			Action:     "proposal.expired",
			EntityType: "proposal",
			EntityID:   "batch",
			Actor:      "scheduler",
			Details:    map[string]any{"count": n, "cutoff": cutoff},
		})
	}
	return n, nil
}
