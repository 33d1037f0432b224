package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// DisputeStore implements domain.DisputeStore using PostgreSQL.
type DisputeStore struct {
	pool *pgxpool.Pool
}

// NewDisputeStore creates a new DisputeStore backed by the given pool.
func NewDisputeStore(pool *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{pool: pool}
}

// Create inserts a new dispute.
func (s *DisputeStore) Create(ctx context.Context, d domain.Dispute) error {
	const query = `
		INSERT INTO disputes (
			id, resolution_id, disputer, reason, evidence_urls, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.ResolutionID, d.Disputer, d.Reason, d.EvidenceURLs,
		string(d.Status), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create dispute %s: %w", d.ID, err)
	}
	return nil
}

const disputeSelectCols = `id, resolution_id, disputer, reason, evidence_urls,
	status, new_result, review, created_at, updated_at`

func scanDispute(row pgx.Row) (domain.Dispute, error) {
	var d domain.Dispute
	var status, newResult string
	var reviewJSON []byte
	err := row.Scan(&d.ID, &d.ResolutionID, &d.Disputer, &d.Reason,
		&d.EvidenceURLs, &status, &newResult, &reviewJSON, &d.CreatedAt,
		&d.UpdatedAt)
	if err != nil {
		return domain.Dispute{}, err
	}
	d.Status = domain.DisputeStatus(status)
	d.NewResult = domain.ResolutionResult(newResult)
	if len(reviewJSON) > 0 {
		var review domain.AIReview
		if err := json.Unmarshal(reviewJSON, &review); err != nil {
			return domain.Dispute{}, fmt.Errorf("unmarshal review: %w", err)
		}
		d.Review = &review
	}
	return d, nil
}

// GetByID fetches a single dispute.
func (s *DisputeStore) GetByID(ctx context.Context, id string) (domain.Dispute, error) {
	query := `SELECT ` + disputeSelectCols + ` FROM disputes WHERE id = $1`

	d, err := scanDispute(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dispute{}, domain.ErrNotFound
		}
		return domain.Dispute{}, fmt.Errorf("postgres: get dispute %s: %w", id, err)
	}
	return d, nil
}

// ListByStatus returns disputes in the given status, oldest first so the
// dispute agent works the backlog in order.
func (s *DisputeStore) ListByStatus(ctx context.Context, status domain.DisputeStatus, opts domain.ListOpts) ([]domain.Dispute, error) {
	query := `SELECT ` + disputeSelectCols + `
		FROM disputes WHERE status = $1 ORDER BY created_at ASC`
	args := []any{string(status)}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list disputes: %w", err)
	}
	defer rows.Close()

	var out []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dispute: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list disputes rows: %w", err)
	}
	return out, nil
}

// HasOpen reports whether the resolution has a dispute in pending or reviewing.
func (s *DisputeStore) HasOpen(ctx context.Context, resolutionID string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM disputes
			WHERE resolution_id = $1 AND status IN ('pending', 'reviewing')
		)`

	var open bool
	if err := s.pool.QueryRow(ctx, query, resolutionID).Scan(&open); err != nil {
		return false, fmt.Errorf("postgres: check open disputes for %s: %w", resolutionID, err)
	}
	return open, nil
}

// UpdateStatus moves the dispute to target iff its current status is in from,
// recording new_result and the AI review alongside.
func (s *DisputeStore) UpdateStatus(ctx context.Context, id string, from []domain.DisputeStatus, to domain.DisputeStatus, newResult domain.ResolutionResult, review *domain.AIReview) error {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	var reviewJSON []byte
	if review != nil {
		var err error
		reviewJSON, err = json.Marshal(review)
		if err != nil {
			return fmt.Errorf("postgres: marshal dispute review: %w", err)
		}
	}

	const query = `
		UPDATE disputes
		SET status = $1,
			new_result = $2,
			review = COALESCE($3, review),
			updated_at = NOW()
		WHERE id = $4 AND status = ANY($5)`

	tag, err := s.pool.Exec(ctx, query,
		string(to), string(newResult), reviewJSON, id, fromStrs,
	)
	if err != nil {
		return fmt.Errorf("postgres: update dispute status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM disputes WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check dispute %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidStatus
	}
	return nil
}

// Compile-time interface check.
var _ domain.DisputeStore = (*DisputeStore)(nil)
