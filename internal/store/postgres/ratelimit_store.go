package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// RateLimitStore implements domain.RateLimitStore using PostgreSQL. The
// increment-and-read is a single atomic upsert so concurrent requests from
// the same identifier never lose updates.
type RateLimitStore struct {
	pool *pgxpool.Pool
}

// NewRateLimitStore creates a new RateLimitStore backed by the given pool.
func NewRateLimitStore(pool *pgxpool.Pool) *RateLimitStore {
	return &RateLimitStore{pool: pool}
}

// Increment bumps the counter for (identifier, endpoint, window_type,
// window_start) and returns the post-increment count.
func (s *RateLimitStore) Increment(ctx context.Context, identifier, endpoint string, window domain.WindowType, windowStart time.Time) (int, error) {
	const query = `
		INSERT INTO rate_limit_records (identifier, endpoint, window_type, window_start, count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (identifier, endpoint, window_type, window_start)
		DO UPDATE SET count = rate_limit_records.count + 1
		RETURNING count`

	var count int
	err := s.pool.QueryRow(ctx, query,
		identifier, endpoint, string(window), windowStart,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: increment rate limit %s/%s: %w", identifier, endpoint, err)
	}
	return count, nil
}

// DeleteOlderThan purges counters whose window started before cutoff.
func (s *RateLimitStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM rate_limit_records WHERE window_start < $1`

	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep rate limit records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.RateLimitStore = (*RateLimitStore)(nil)
