package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// CandidateStore implements domain.CandidateStore using PostgreSQL.
type CandidateStore struct {
	pool *pgxpool.Pool
}

// NewCandidateStore creates a new CandidateStore backed by the given pool.
func NewCandidateStore(pool *pgxpool.Pool) *CandidateStore {
	return &CandidateStore{pool: pool}
}

// Create inserts a new candidate.
func (s *CandidateStore) Create(ctx context.Context, c domain.Candidate) error {
	const query = `
		INSERT INTO candidates (
			id, news_ref, proposal_id, entities, event_type,
			market_worthy, confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.NewsRef, c.ProposalID, c.Entities, c.EventType,
		c.MarketWorthy, c.Confidence, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create candidate %s: %w", c.ID, err)
	}
	return nil
}

// GetByID fetches a single candidate.
func (s *CandidateStore) GetByID(ctx context.Context, id string) (domain.Candidate, error) {
	const query = `
		SELECT id, news_ref, proposal_id, entities, event_type,
			market_worthy, confidence, consumed_at, created_at
		FROM candidates WHERE id = $1`

	var c domain.Candidate
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.NewsRef, &c.ProposalID, &c.Entities, &c.EventType,
		&c.MarketWorthy, &c.Confidence, &c.ConsumedAt, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Candidate{}, domain.ErrNotFound
		}
		return domain.Candidate{}, fmt.Errorf("postgres: get candidate %s: %w", id, err)
	}
	return c, nil
}

// Consume marks the candidate consumed exactly once. A second attempt fails
// the conditional write and returns ErrInvalidStatus.
func (s *CandidateStore) Consume(ctx context.Context, id string) error {
	const query = `
		UPDATE candidates SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: consume candidate %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM candidates WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check candidate %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidStatus
	}
	return nil
}

// Compile-time interface check.
var _ domain.CandidateStore = (*CandidateStore)(nil)
