package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a new ProposalStore backed by the given pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

// isUniqueViolation reports whether err is a PostgreSQL unique violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a new proposal. A text-hash collision returns ErrDuplicate.
func (s *ProposalStore) Create(ctx context.Context, p domain.Proposal) error {
	const query = `
		INSERT INTO proposals (
			id, text_body, text_hash, category_hint, submitter, status,
			review_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Text, p.TextHash, p.CategoryHint, p.Submitter,
		string(p.Status), p.ReviewReason, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("postgres: create proposal %s: %w", p.ID, err)
	}
	return nil
}

const proposalSelectCols = `id, text_body, text_hash, category_hint, submitter,
	status, review_reason, created_at, updated_at`

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var p domain.Proposal
	var status string
	err := row.Scan(&p.ID, &p.Text, &p.TextHash, &p.CategoryHint, &p.Submitter,
		&status, &p.ReviewReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Proposal{}, err
	}
	p.Status = domain.ProposalStatus(status)
	return p, nil
}

// GetByID fetches a single proposal.
func (s *ProposalStore) GetByID(ctx context.Context, id string) (domain.Proposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM proposals WHERE id = $1`

	p, err := scanProposal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %s: %w", id, err)
	}
	return p, nil
}

// ListByStatus returns proposals in the given status, newest first. Since
// and Until bound the last update time, which is what the maintenance
// sweeps key on.
func (s *ProposalStore) ListByStatus(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalSelectCols + `
		FROM proposals WHERE status = $1`
	args := []any{string(status)}

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", len(args)+1)
		args = append(args, *opts.Since)
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND updated_at <= $%d", len(args)+1)
		args = append(args, *opts.Until)
	}
	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return out, nil
}

// UpdateStatus moves the proposal to target iff its current status is in from.
// Zero rows affected means the precondition failed: ErrNotFound if the row
// does not exist, ErrInvalidStatus otherwise.
func (s *ProposalStore) UpdateStatus(ctx context.Context, id string, from []domain.ProposalStatus, to domain.ProposalStatus, reason string) error {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	const query = `
		UPDATE proposals
		SET status = $1, review_reason = COALESCE(NULLIF($2, ''), review_reason), updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)`

	tag, err := s.pool.Exec(ctx, query, string(to), reason, id, fromStrs)
	if err != nil {
		return fmt.Errorf("postgres: update proposal status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM proposals WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check proposal %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidStatus
	}
	return nil
}

// ExpireProcessing fails proposals stuck in processing since before cutoff.
func (s *ProposalStore) ExpireProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE proposals
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3`

	tag, err := s.pool.Exec(ctx, query,
		string(domain.ProposalStatusFailed),
		string(domain.ProposalStatusProcessing),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire processing proposals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.ProposalStore = (*ProposalStore)(nil)
