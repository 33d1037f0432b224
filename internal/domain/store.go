package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ProposalStore persists proposals. Status changes go through conditional
// writes: the update applies only when the current status is in the allowed
// source set, and zero rows affected surfaces as ErrInvalidStatus.
type ProposalStore interface {
	// Create inserts a new proposal. A text-hash collision with an existing
	// proposal returns ErrDuplicate.
	Create(ctx context.Context, p Proposal) error
	GetByID(ctx context.Context, id string) (Proposal, error)
	ListByStatus(ctx context.Context, status ProposalStatus, opts ListOpts) ([]Proposal, error)
	// UpdateStatus moves the proposal to target iff its current status is in
	// from. reason is recorded for admin decisions and may be empty.
	UpdateStatus(ctx context.Context, id string, from []ProposalStatus, to ProposalStatus, reason string) error
	// ExpireProcessing fails proposals stuck in processing since before cutoff.
	ExpireProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

// CandidateStore persists extracted candidates.
type CandidateStore interface {
	Create(ctx context.Context, c Candidate) error
	GetByID(ctx context.Context, id string) (Candidate, error)
	// Consume marks the candidate consumed exactly once; a second call
	// returns ErrInvalidStatus.
	Consume(ctx context.Context, id string) error
}

// MarketStore persists generated markets.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetByProposalID(ctx context.Context, proposalID string) (Market, error)
	UpdateStatus(ctx context.Context, id string, from []MarketStatus, to MarketStatus) error
	// Publish sets market_address and tx_signature exactly once and moves the
	// market to active. Reporting a different address for an already-active
	// market returns ErrAddressMismatch; any other precondition failure
	// returns ErrInvalidStatus.
	Publish(ctx context.Context, id, address, txSignature string) error
	// ListExpired returns active markets whose resolution expiry has passed.
	ListExpired(ctx context.Context, now time.Time, opts ListOpts) ([]Market, error)
}

// ResolutionStore persists market resolutions.
type ResolutionStore interface {
	// Create inserts a resolution in status resolved. A second in-flight
	// resolution for the same market returns ErrDuplicate.
	Create(ctx context.Context, r Resolution) error
	GetByID(ctx context.Context, id string) (Resolution, error)
	GetByMarketID(ctx context.Context, marketID string) (Resolution, error)
	// Finalize moves resolved → finalized, optionally rewriting the final
	// result (dispute overturned). newResult empty keeps the original result.
	Finalize(ctx context.Context, id string, newResult ResolutionResult) error
	// ListWindowElapsed returns resolutions still in status resolved whose
	// dispute window ended before now and which have no open dispute.
	ListWindowElapsed(ctx context.Context, now time.Time, opts ListOpts) ([]Resolution, error)
}

// DisputeStore persists disputes.
type DisputeStore interface {
	Create(ctx context.Context, d Dispute) error
	GetByID(ctx context.Context, id string) (Dispute, error)
	ListByStatus(ctx context.Context, status DisputeStatus, opts ListOpts) ([]Dispute, error)
	// HasOpen reports whether the resolution has a dispute in pending or
	// reviewing.
	HasOpen(ctx context.Context, resolutionID string) (bool, error)
	UpdateStatus(ctx context.Context, id string, from []DisputeStatus, to DisputeStatus, newResult ResolutionResult, review *AIReview) error
}

// WorkerKeyStore persists hashed worker API keys.
type WorkerKeyStore interface {
	Create(ctx context.Context, k WorkerKey) error
	GetByID(ctx context.Context, id string) (WorkerKey, error)
	// TouchLastUsed is fire-and-forget bookkeeping on successful exchange.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Append(ctx context.Context, e AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// RateLimitStore backs admission control with persistent counters. Increment
// must be a single atomic upsert so concurrent requests from the same
// identifier never lose updates.
type RateLimitStore interface {
	Increment(ctx context.Context, identifier, endpoint string, window WindowType, windowStart time.Time) (int, error)
	// DeleteOlderThan purges counters whose window started before cutoff.
	// Advisory cleanup, not correctness-critical.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockManager provides distributed locks for sweep jobs that should not run
// concurrently across processes.
type LockManager interface {
	// Acquire returns an unlock func on success or ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
