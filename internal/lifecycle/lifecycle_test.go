package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// In-memory store fakes with the same conditional-write semantics the
// Postgres stores implement: a status update applies only when the current
// status is in the allowed source set, and a miss is ErrInvalidStatus.

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	failNext  bool
}

func newMemBus() *memBus {
	return &memBus{published: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, queue string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		b.failNext = false
		return fmt.Errorf("bus down")
	}
	b.published[queue] = append(b.published[queue], payload)
	return nil
}

func (b *memBus) count(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[queue])
}

func (b *memBus) last(queue string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.published[queue]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

type memProposals struct {
	mu sync.Mutex
	m  map[string]domain.Proposal
}

func newMemProposals() *memProposals {
	return &memProposals{m: make(map[string]domain.Proposal)}
}

func (s *memProposals) Create(_ context.Context, p domain.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.m {
		if ex.TextHash == p.TextHash {
			return domain.ErrDuplicate
		}
	}
	s.m[p.ID] = p
	return nil
}

func (s *memProposals) GetByID(_ context.Context, id string) (domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memProposals) ListByStatus(_ context.Context, status domain.ProposalStatus, _ domain.ListOpts) ([]domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Proposal
	for _, p := range s.m {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memProposals) UpdateStatus(_ context.Context, id string, from []domain.ProposalStatus, to domain.ProposalStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			if reason != "" {
				p.ReviewReason = reason
			}
			p.UpdatedAt = time.Now().UTC()
			s.m[id] = p
			return nil
		}
	}
	return domain.ErrInvalidStatus
}

func (s *memProposals) ExpireProcessing(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.m {
		if p.Status == domain.ProposalStatusProcessing && p.UpdatedAt.Before(cutoff) {
			p.Status = domain.ProposalStatusFailed
			s.m[id] = p
			n++
		}
	}
	return n, nil
}

type memCandidates struct {
	mu sync.Mutex
	m  map[string]domain.Candidate
}

func newMemCandidates() *memCandidates {
	return &memCandidates{m: make(map[string]domain.Candidate)}
}

func (s *memCandidates) Create(_ context.Context, c domain.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[c.ID] = c
	return nil
}

func (s *memCandidates) GetByID(_ context.Context, id string) (domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[id]
	if !ok {
		return domain.Candidate{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memCandidates) Consume(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.ConsumedAt != nil {
		return domain.ErrInvalidStatus
	}
	now := time.Now().UTC()
	c.ConsumedAt = &now
	s.m[id] = c
	return nil
}

type memMarkets struct {
	mu sync.Mutex
	m  map[string]domain.Market
}

func newMemMarkets() *memMarkets {
	return &memMarkets{m: make(map[string]domain.Market)}
}

func (s *memMarkets) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[m.ID] = m
	return nil
}

func (s *memMarkets) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarkets) GetByProposalID(_ context.Context, proposalID string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.m {
		if m.ProposalID == proposalID {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *memMarkets) UpdateStatus(_ context.Context, id string, from []domain.MarketStatus, to domain.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, f := range from {
		if m.Status == f {
			m.Status = to
			s.m[id] = m
			return nil
		}
	}
	return domain.ErrInvalidStatus
}

func (s *memMarkets) Publish(_ context.Context, id, address, txSignature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status == domain.MarketStatusActive {
		if m.MarketAddress == address {
			return nil
		}
		return domain.ErrAddressMismatch
	}
	if m.Status != domain.MarketStatusPendingReview {
		return domain.ErrInvalidStatus
	}
	m.Status = domain.MarketStatusActive
	m.MarketAddress = address
	m.TxSignature = txSignature
	s.m[id] = m
	return nil
}

func (s *memMarkets) ListExpired(_ context.Context, now time.Time, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.m {
		if m.Status == domain.MarketStatusActive && m.Rules.Expiry.Before(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

type memResolutions struct {
	mu sync.Mutex
	m  map[string]domain.Resolution
}

func newMemResolutions() *memResolutions {
	return &memResolutions{m: make(map[string]domain.Resolution)}
}

func (s *memResolutions) Create(_ context.Context, r domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.m {
		if ex.MarketID == r.MarketID && ex.Status == domain.ResolutionStatusResolved {
			return domain.ErrDuplicate
		}
	}
	s.m[r.ID] = r
	return nil
}

func (s *memResolutions) GetByID(_ context.Context, id string) (domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[id]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memResolutions) GetByMarketID(_ context.Context, marketID string) (domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.m {
		if r.MarketID == marketID {
			return r, nil
		}
	}
	return domain.Resolution{}, domain.ErrNotFound
}

func (s *memResolutions) Finalize(_ context.Context, id string, newResult domain.ResolutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != domain.ResolutionStatusResolved {
		return domain.ErrInvalidStatus
	}
	r.Status = domain.ResolutionStatusFinalized
	if newResult != "" {
		r.FinalResult = newResult
	}
	s.m[id] = r
	return nil
}

func (s *memResolutions) ListWindowElapsed(_ context.Context, now time.Time, _ domain.ListOpts) ([]domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Resolution
	for _, r := range s.m {
		if r.Status == domain.ResolutionStatusResolved && r.DisputeWindowEnd.Before(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memDisputes struct {
	mu sync.Mutex
	m  map[string]domain.Dispute
}

func newMemDisputes() *memDisputes {
	return &memDisputes{m: make(map[string]domain.Dispute)}
}

func (s *memDisputes) Create(_ context.Context, d domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[d.ID] = d
	return nil
}

func (s *memDisputes) GetByID(_ context.Context, id string) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[id]
	if !ok {
		return domain.Dispute{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *memDisputes) ListByStatus(_ context.Context, status domain.DisputeStatus, _ domain.ListOpts) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Dispute
	for _, d := range s.m {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDisputes) HasOpen(_ context.Context, resolutionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.m {
		if d.ResolutionID == resolutionID &&
			(d.Status == domain.DisputeStatusPending || d.Status == domain.DisputeStatusReviewing) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memDisputes) UpdateStatus(_ context.Context, id string, from []domain.DisputeStatus, to domain.DisputeStatus, newResult domain.ResolutionResult, review *domain.AIReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, f := range from {
		if d.Status == f {
			d.Status = to
			if newResult != "" {
				d.NewResult = newResult
			}
			if review != nil {
				d.Review = review
			}
			s.m[id] = d
			return nil
		}
	}
	return domain.ErrInvalidStatus
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *memAudit) Append(_ context.Context, e domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.entries...), nil
}

func (s *memAudit) lastAction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return ""
	}
	return s.entries[len(s.entries)-1].Action
}

type env struct {
	svc         *Service
	bus         *memBus
	proposals   *memProposals
	candidates  *memCandidates
	markets     *memMarkets
	resolutions *memResolutions
	disputes    *memDisputes
	audit       *memAudit
}

func newEnv() *env {
	e := &env{
		bus:         newMemBus(),
		proposals:   newMemProposals(),
		candidates:  newMemCandidates(),
		markets:     newMemMarkets(),
		resolutions: newMemResolutions(),
		disputes:    newMemDisputes(),
		audit:       &memAudit{},
	}
	e.svc = NewService(Stores{
		Proposals:   e.proposals,
		Candidates:  e.candidates,
		Markets:     e.markets,
		Resolutions: e.resolutions,
		Disputes:    e.disputes,
		Audit:       e.audit,
	}, e.bus, nil, nil, nil, Config{
		ConfidenceThreshold: 0.7,
		AIVersion:           "test",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return e
}

// setNow pins the service clock.
func (e *env) setNow(t time.Time) {
	e.svc.now = func() time.Time { return t }
}
