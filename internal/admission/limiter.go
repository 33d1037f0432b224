// Package admission implements the multi-window rate limiter guarding every
// state-changing endpoint. Counters live in the relational store so limits
// hold across processes and restarts.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// EndpointClass names a group of endpoints sharing one limit schedule.
type EndpointClass string

const (
	ClassPropose EndpointClass = "propose"
	ClassDispute EndpointClass = "dispute"
	ClassDefault EndpointClass = "default"
	// ClassInternal covers authenticated worker and admin mutations. It has
	// no schedule of its own and rides the default one; the separate class
	// keeps its rejections distinguishable in metrics.
	ClassInternal EndpointClass = "internal"
)

// Limits maps endpoint classes to their window schedules, ordered by
// ascending granularity.
type Limits map[EndpointClass][]domain.WindowLimit

// DefaultLimits builds the schedule from configured per-class budgets. A zero
// budget drops that window from the schedule.
func DefaultLimits(proposeMin, proposeHour, proposeDay, disputeHour, disputeDay, defMin, defHour int) Limits {
	schedule := func(pairs ...domain.WindowLimit) []domain.WindowLimit {
		out := make([]domain.WindowLimit, 0, len(pairs))
		for _, p := range pairs {
			if p.Limit > 0 {
				out = append(out, p)
			}
		}
		return out
	}
	return Limits{
		ClassPropose: schedule(
			domain.WindowLimit{Window: domain.WindowMinute, Limit: proposeMin},
			domain.WindowLimit{Window: domain.WindowHour, Limit: proposeHour},
			domain.WindowLimit{Window: domain.WindowDay, Limit: proposeDay},
		),
		ClassDispute: schedule(
			domain.WindowLimit{Window: domain.WindowHour, Limit: disputeHour},
			domain.WindowLimit{Window: domain.WindowDay, Limit: disputeDay},
		),
		ClassDefault: schedule(
			domain.WindowLimit{Window: domain.WindowMinute, Limit: defMin},
			domain.WindowLimit{Window: domain.WindowHour, Limit: defHour},
		),
	}
}

// Limiter checks requests against every configured window for their endpoint
// class, rejecting on the first exceeded window.
type Limiter struct {
	store  domain.RateLimitStore
	limits Limits
	now    func() time.Time
}

// NewLimiter creates a Limiter over the given counter store.
func NewLimiter(store domain.RateLimitStore, limits Limits) *Limiter {
	return &Limiter{store: store, limits: limits, now: time.Now}
}

// Schedule returns the window schedule for a class, falling back to the
// default class.
func (l *Limiter) Schedule(class EndpointClass) []domain.WindowLimit {
	if s, ok := l.limits[class]; ok && len(s) > 0 {
		return s
	}
	return l.limits[ClassDefault]
}

// Check runs one admission decision. It increments the counter for every
// window in ascending granularity order, short-circuiting with a rejection on
// the first exceeded window. The returned results cover every window checked;
// the last entry is the rejecting one when Allowed is false.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, class EndpointClass) (allowed bool, results []domain.AdmissionResult, err error) {
	now := l.now().UTC()

	for _, wl := range l.Schedule(class) {
		windowStart := wl.Window.Floor(now)

		count, err := l.store.Increment(ctx, identifier, endpoint, wl.Window, windowStart)
		if err != nil {
			return false, results, fmt.Errorf("admission: check %s %s: %w", identifier, endpoint, err)
		}

		remaining := wl.Limit - count
		if remaining < 0 {
			remaining = 0
		}
		res := domain.AdmissionResult{
			Allowed:   count <= wl.Limit,
			Window:    wl.Window,
			Limit:     wl.Limit,
			Remaining: remaining,
			ResetAt:   windowStart.Add(wl.Window.Duration()),
		}
		results = append(results, res)

		if !res.Allowed {
			return false, results, nil
		}
	}
	return true, results, nil
}

// Sweeper periodically purges counters older than the retention period.
// Advisory cleanup, not correctness-critical.
type Sweeper struct {
	store     domain.RateLimitStore
	locks     domain.LockManager
	retention time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper with the given retention.
func NewSweeper(store domain.RateLimitStore, locks domain.LockManager, retention time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, locks: locks, retention: retention, logger: logger}
}

// Sweep deletes expired counters once, guarded by a distributed lock so
// concurrent scheduler instances do not duplicate work. A held lock is not an
// error.
func (s *Sweeper) Sweep(ctx context.Context) error {
	unlock, err := s.locks.Acquire(ctx, "admission:sweep", time.Minute)
	if err != nil {
		if err == domain.ErrLockHeld {
			return nil
		}
		return fmt.Errorf("admission: acquire sweep lock: %w", err)
	}
	defer unlock()

	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("admission: sweep: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("admission: swept rate limit records",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}
