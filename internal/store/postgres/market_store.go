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

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Create inserts a new draft market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	rulesJSON, err := json.Marshal(m.Rules)
	if err != nil {
		return fmt.Errorf("postgres: marshal market rules: %w", err)
	}

	const query = `
		INSERT INTO markets (
			id, proposal_id, candidate_id, title, description, category,
			rules, confidence, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`

	_, err = s.pool.Exec(ctx, query,
		m.ID, m.ProposalID, m.CandidateID, m.Title, m.Description, m.Category,
		rulesJSON, m.Confidence, string(m.Status), m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

const marketSelectCols = `id, proposal_id, candidate_id, title, description,
	category, rules, confidence, status, market_address, tx_signature,
	created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	var rulesJSON []byte
	err := row.Scan(&m.ID, &m.ProposalID, &m.CandidateID, &m.Title,
		&m.Description, &m.Category, &rulesJSON, &m.Confidence, &status,
		&m.MarketAddress, &m.TxSignature, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &m.Rules); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal rules: %w", err)
		}
	}
	return m, nil
}

// GetByID fetches a single market.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE id = $1`

	m, err := scanMarket(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetByProposalID fetches the market generated from a proposal.
func (s *MarketStore) GetByProposalID(ctx context.Context, proposalID string) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE proposal_id = $1`

	m, err := scanMarket(s.pool.QueryRow(ctx, query, proposalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market for proposal %s: %w", proposalID, err)
	}
	return m, nil
}

// UpdateStatus moves the market to target iff its current status is in from.
func (s *MarketStore) UpdateStatus(ctx context.Context, id string, from []domain.MarketStatus, to domain.MarketStatus) error {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	const query = `
		UPDATE markets SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`

	tag, err := s.pool.Exec(ctx, query, string(to), id, fromStrs)
	if err != nil {
		return fmt.Errorf("postgres: update market status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check market %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidStatus
	}
	return nil
}

// Publish sets market_address and tx_signature exactly once and moves the
// market to active. The address is immutable afterwards: a duplicate report
// with a different address returns ErrAddressMismatch, any other failed
// precondition returns ErrInvalidStatus.
func (s *MarketStore) Publish(ctx context.Context, id, address, txSignature string) error {
	const query = `
		UPDATE markets
		SET status = $1, market_address = $2, tx_signature = $3, updated_at = NOW()
		WHERE id = $4
			AND status = ANY($5)
			AND market_address = ''`

	fromStrs := []string{
		string(domain.MarketStatusDraft),
		string(domain.MarketStatusPendingReview),
	}

	tag, err := s.pool.Exec(ctx, query,
		string(domain.MarketStatusActive), address, txSignature, id, fromStrs,
	)
	if err != nil {
		return fmt.Errorf("postgres: publish market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx,
			"SELECT market_address FROM markets WHERE id = $1", id,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: check market %s: %w", id, err)
		}
		if current != "" && current != address {
			return domain.ErrAddressMismatch
		}
		return domain.ErrInvalidStatus
	}
	return nil
}

// ListExpired returns active markets whose resolution expiry has passed.
func (s *MarketStore) ListExpired(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + `
		FROM markets
		WHERE status = $1 AND (rules->>'expiry')::timestamptz <= $2
		ORDER BY created_at ASC`
	args := []any{string(domain.MarketStatusActive), now}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list expired markets rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
