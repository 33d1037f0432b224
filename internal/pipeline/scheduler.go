package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/quorumlabs/marketforge/internal/admission"
	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/lifecycle"
)

const (
	schedulerLockKey = "scheduler:tick"
	schedulerLockTTL = 2 * time.Minute

	// staleProposalAge bounds how long a proposal may sit in processing
	// before the scheduler expires it as abandoned.
	staleProposalAge = 24 * time.Hour

	// staleSubmissionAge bounds how long a proposal may sit in submitted
	// before the scheduler assumes the enqueue was lost and requeues it.
	staleSubmissionAge = 10 * time.Minute
)

// Scheduler drives the time-based transitions no queue message triggers:
// finalizing resolutions whose dispute window elapsed, moving expired
// markets into resolution, expiring abandoned proposals and purging old
// rate-limit counters. Ticks are guarded by a distributed lock so only one
// instance works at a time; the conditional writes underneath make an
// occasional double tick harmless anyway.
type Scheduler struct {
	svc      *lifecycle.Service
	sweeper  *admission.Sweeper
	locks    domain.LockManager
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(
	svc *lifecycle.Service,
	sweeper *admission.Sweeper,
	locks domain.LockManager,
	interval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{svc: svc, sweeper: sweeper, locks: locks, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	unlock, err := s.locks.Acquire(ctx, schedulerLockKey, schedulerLockTTL)
	if err != nil {
		if err != domain.ErrLockHeld && ctx.Err() == nil {
			s.logger.Error("scheduler: lock acquire failed", slog.String("error", err.Error()))
		}
		return
	}
	defer unlock()

	if n, err := s.svc.FinalizeElapsed(ctx); err != nil {
		s.logger.Error("scheduler: finalize elapsed failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("scheduler: finalized resolutions", slog.Int("count", n))
	}

	if n, err := s.svc.SweepExpiredMarkets(ctx); err != nil {
		s.logger.Error("scheduler: expired market sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("scheduler: queued expired markets for resolution", slog.Int("count", n))
	}

	if n, err := s.svc.RequeueStaleSubmitted(ctx, staleSubmissionAge); err != nil {
		s.logger.Error("scheduler: stale submission requeue failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("scheduler: requeued stale submissions", slog.Int("count", n))
	}

	if n, err := s.svc.ExpireStaleProposals(ctx, staleProposalAge); err != nil {
		s.logger.Error("scheduler: stale proposal expiry failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("scheduler: expired stale proposals", slog.Int64("count", n))
	}

	if s.sweeper != nil {
		if err := s.sweeper.Sweep(ctx); err != nil {
			s.logger.Error("scheduler: rate limit sweep failed", slog.String("error", err.Error()))
		}
	}
}
