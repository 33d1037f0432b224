package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// WorkerKeyStore implements domain.WorkerKeyStore using PostgreSQL.
type WorkerKeyStore struct {
	pool *pgxpool.Pool
}

// NewWorkerKeyStore creates a new WorkerKeyStore backed by the given pool.
func NewWorkerKeyStore(pool *pgxpool.Pool) *WorkerKeyStore {
	return &WorkerKeyStore{pool: pool}
}

// Create inserts a new worker key record. Only the digest is stored.
func (s *WorkerKeyStore) Create(ctx context.Context, k domain.WorkerKey) error {
	const query = `
		INSERT INTO worker_keys (
			id, worker_type, key_digest, salt, permissions, disabled, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		k.ID, string(k.WorkerType), k.KeyDigest, k.Salt, k.Permissions,
		k.Disabled, k.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("postgres: create worker key %s: %w", k.ID, err)
	}
	return nil
}

// GetByID fetches a worker key record by its public identifier.
func (s *WorkerKeyStore) GetByID(ctx context.Context, id string) (domain.WorkerKey, error) {
	const query = `
		SELECT id, worker_type, key_digest, salt, permissions, disabled,
			last_used_at, created_at
		FROM worker_keys WHERE id = $1`

	var k domain.WorkerKey
	var workerType string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&k.ID, &workerType, &k.KeyDigest, &k.Salt, &k.Permissions,
		&k.Disabled, &k.LastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkerKey{}, domain.ErrNotFound
		}
		return domain.WorkerKey{}, fmt.Errorf("postgres: get worker key %s: %w", id, err)
	}
	k.WorkerType = domain.WorkerType(workerType)
	return k, nil
}

// TouchLastUsed updates last_used_at. Called asynchronously after a
// successful key exchange; failures are logged by the caller, not surfaced.
func (s *WorkerKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE worker_keys SET last_used_at = $1 WHERE id = $2`

	if _, err := s.pool.Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("postgres: touch worker key %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.WorkerKeyStore = (*WorkerKeyStore)(nil)
