package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a new ResolutionStore backed by the given pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

// Create inserts a resolution in status resolved. The partial unique index on
// (market_id) WHERE status = 'resolved' rejects a second in-flight resolution.
func (s *ResolutionStore) Create(ctx context.Context, r domain.Resolution) error {
	metJSON, err := json.Marshal(r.CriteriaMet)
	if err != nil {
		return fmt.Errorf("postgres: marshal criteria_met: %w", err)
	}
	exclJSON, err := json.Marshal(r.CriteriaExcluded)
	if err != nil {
		return fmt.Errorf("postgres: marshal criteria_excluded: %w", err)
	}

	const query = `
		INSERT INTO resolutions (
			id, market_id, final_result, source, evidence_hash,
			criteria_met, criteria_excluded, status, dispute_window_end,
			resolved_by, resolved_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.MarketID, string(r.FinalResult), r.Source, r.EvidenceHash,
		metJSON, exclJSON, string(r.Status), r.DisputeWindowEnd,
		r.ResolvedBy, r.ResolvedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("postgres: create resolution %s: %w", r.ID, err)
	}
	return nil
}

const resolutionSelectCols = `id, market_id, final_result, source,
	evidence_hash, criteria_met, criteria_excluded, status,
	dispute_window_end, resolved_by, resolved_at, updated_at`

func scanResolution(row pgx.Row) (domain.Resolution, error) {
	var r domain.Resolution
	var result, status string
	var metJSON, exclJSON []byte
	err := row.Scan(&r.ID, &r.MarketID, &result, &r.Source, &r.EvidenceHash,
		&metJSON, &exclJSON, &status, &r.DisputeWindowEnd, &r.ResolvedBy,
		&r.ResolvedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Resolution{}, err
	}
	r.FinalResult = domain.ResolutionResult(result)
	r.Status = domain.ResolutionStatus(status)
	if len(metJSON) > 0 {
		if err := json.Unmarshal(metJSON, &r.CriteriaMet); err != nil {
			return domain.Resolution{}, fmt.Errorf("unmarshal criteria_met: %w", err)
		}
	}
	if len(exclJSON) > 0 {
		if err := json.Unmarshal(exclJSON, &r.CriteriaExcluded); err != nil {
			return domain.Resolution{}, fmt.Errorf("unmarshal criteria_excluded: %w", err)
		}
	}
	return r, nil
}

// GetByID fetches a single resolution.
func (s *ResolutionStore) GetByID(ctx context.Context, id string) (domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + ` FROM resolutions WHERE id = $1`

	r, err := scanResolution(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Resolution{}, domain.ErrNotFound
		}
		return domain.Resolution{}, fmt.Errorf("postgres: get resolution %s: %w", id, err)
	}
	return r, nil
}

// GetByMarketID fetches the latest resolution for a market.
func (s *ResolutionStore) GetByMarketID(ctx context.Context, marketID string) (domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + `
		FROM resolutions WHERE market_id = $1
		ORDER BY resolved_at DESC LIMIT 1`

	r, err := scanResolution(s.pool.QueryRow(ctx, query, marketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Resolution{}, domain.ErrNotFound
		}
		return domain.Resolution{}, fmt.Errorf("postgres: get resolution for market %s: %w", marketID, err)
	}
	return r, nil
}

// Finalize moves resolved → finalized, optionally rewriting the final result
// when a dispute overturned it.
func (s *ResolutionStore) Finalize(ctx context.Context, id string, newResult domain.ResolutionResult) error {
	const query = `
		UPDATE resolutions
		SET status = $1,
			final_result = COALESCE(NULLIF($2, ''), final_result),
			updated_at = NOW()
		WHERE id = $3 AND status = $4`

	tag, err := s.pool.Exec(ctx, query,
		string(domain.ResolutionStatusFinalized), string(newResult),
		id, string(domain.ResolutionStatusResolved),
	)
	if err != nil {
		return fmt.Errorf("postgres: finalize resolution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM resolutions WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check resolution %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidStatus
	}
	return nil
}

// ListWindowElapsed returns resolutions still in status resolved whose
// dispute window ended before now and which have no pending or reviewing
// dispute.
func (s *ResolutionStore) ListWindowElapsed(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + `
		FROM resolutions r
		WHERE r.status = $1
			AND r.dispute_window_end <= $2
			AND NOT EXISTS (
				SELECT 1 FROM disputes d
				WHERE d.resolution_id = r.id AND d.status IN ('pending', 'reviewing')
			)
		ORDER BY r.dispute_window_end ASC`
	args := []any{string(domain.ResolutionStatusResolved), now}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list window-elapsed resolutions: %w", err)
	}
	defer rows.Close()

	var out []domain.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list window-elapsed rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ResolutionStore = (*ResolutionStore)(nil)
