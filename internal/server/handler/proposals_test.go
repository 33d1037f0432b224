package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/lifecycle"
	"github.com/quorumlabs/marketforge/internal/safety"
)

type memProposals struct {
	mu sync.Mutex
	m  map[string]domain.Proposal
}

func (s *memProposals) Create(_ context.Context, p domain.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *memProposals) ListByStatus(_ context.Context, _ domain.ProposalStatus, _ domain.ListOpts) ([]domain.Proposal, error) {
	return nil, nil
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
			s.m[id] = p
			return nil
		}
	}
	return domain.ErrInvalidStatus
}

func (s *memProposals) ExpireProcessing(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// memMarkets serves only the proposal-detail lookup.
type memMarkets struct {
	byProposal map[string]domain.Market
}

func (s *memMarkets) Create(_ context.Context, _ domain.Market) error { return nil }
func (s *memMarkets) GetByID(_ context.Context, _ string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (s *memMarkets) GetByProposalID(_ context.Context, proposalID string) (domain.Market, error) {
	m, ok := s.byProposal[proposalID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}
func (s *memMarkets) UpdateStatus(_ context.Context, _ string, _ []domain.MarketStatus, _ domain.MarketStatus) error {
	return nil
}
func (s *memMarkets) Publish(_ context.Context, _, _, _ string) error { return nil }
func (s *memMarkets) ListExpired(_ context.Context, _ time.Time, _ domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}

type memAudit struct{}

func (memAudit) Append(_ context.Context, _ domain.AuditEntry) error { return nil }
func (memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memBus struct {
	mu     sync.Mutex
	queued map[string]int
}

func (b *memBus) Publish(_ context.Context, queue string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queued == nil {
		b.queued = map[string]int{}
	}
	b.queued[queue]++
	return nil
}

func (b *memBus) count(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queued[queue]
}

type stubClassifier struct {
	cls safety.Classification
}

func (s stubClassifier) Classify(_ context.Context, _, _ string) (safety.Classification, error) {
	return s.cls, nil
}

func newTestHandler(t *testing.T, cls safety.Classification) (*ProposalHandler, *memProposals, *memMarkets, *memBus) {
	t.Helper()
	proposals := &memProposals{m: map[string]domain.Proposal{}}
	markets := &memMarkets{byProposal: map[string]domain.Market{}}
	bus := &memBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := lifecycle.NewService(lifecycle.Stores{
		Proposals: proposals,
		Markets:   markets,
		Audit:     memAudit{},
	}, bus, nil, nil, nil, lifecycle.Config{ConfidenceThreshold: 0.7}, logger)
	filter, err := safety.NewFilter(safety.DefaultRules(), stubClassifier{cls: cls})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	return NewProposalHandler(svc, filter, nil, logger), proposals, markets, bus
}

func decodeData(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var env struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func TestSubmit_ReviewVerdictPersistsNeedsHuman(t *testing.T) {
	h, proposals, _, bus := newTestHandler(t, safety.Classification{
		Recommendation: safety.RecommendReview,
		DetectedIssues: []string{"ambiguous intent"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/proposals",
		strings.NewReader(`{"text":"A borderline but plausibly legitimate market question here"}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d want 201", rec.Code)
	}
	data := decodeData(t, rec.Body)
	if got := data["status"]; got != "needs_human" {
		t.Fatalf("response status=%v want needs_human", got)
	}
	id, _ := data["id"].(string)
	p, err := proposals.GetByID(context.Background(), id)
	if err != nil || p.Status != domain.ProposalStatusNeedsHuman {
		t.Fatalf("persisted=%+v err=%v want needs_human", p, err)
	}
	if n := bus.count(domain.QueueNewsRaw); n != 0 {
		t.Fatalf("news.raw messages=%d want 0", n)
	}
}

func TestSubmit_AllowVerdictEntersQueue(t *testing.T) {
	h, proposals, _, bus := newTestHandler(t, safety.Classification{
		IsSafe:         true,
		Recommendation: safety.RecommendAllow,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/proposals",
		strings.NewReader(`{"text":"Company X confirms an earnings call next Tuesday"}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d want 201", rec.Code)
	}
	data := decodeData(t, rec.Body)
	if got := data["status"]; got != "submitted" {
		t.Fatalf("response status=%v want submitted", got)
	}
	id, _ := data["id"].(string)
	if p, err := proposals.GetByID(context.Background(), id); err != nil || p.Status != domain.ProposalStatusSubmitted {
		t.Fatalf("persisted=%+v err=%v want submitted", p, err)
	}
	if n := bus.count(domain.QueueNewsRaw); n != 1 {
		t.Fatalf("news.raw messages=%d want 1", n)
	}
}

func TestGet_EmbedsDraftMarket(t *testing.T) {
	h, proposals, markets, _ := newTestHandler(t, safety.Classification{
		IsSafe:         true,
		Recommendation: safety.RecommendAllow,
	})
	now := time.Now().UTC()
	proposals.m["prop-1"] = domain.Proposal{
		ID: "prop-1", Status: domain.ProposalStatusPublished, CreatedAt: now, UpdatedAt: now,
	}
	markets.byProposal["prop-1"] = domain.Market{
		ID:            "mkt-1",
		ProposalID:    "prop-1",
		Status:        domain.MarketStatusActive,
		MarketAddress: "0xMarket",
		TxSignature:   "0xTx",
	}

	req := httptest.NewRequest(http.MethodGet, "/api/proposals/prop-1", nil)
	req.SetPathValue("id", "prop-1")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
	data := decodeData(t, rec.Body)
	dm, ok := data["draft_market"].(map[string]any)
	if !ok {
		t.Fatalf("draft_market missing in %v", data)
	}
	if dm["id"] != "mkt-1" || dm["status"] != "active" || dm["market_address"] != "0xMarket" || dm["tx_signature"] != "0xTx" {
		t.Fatalf("draft_market=%v incomplete", dm)
	}
}

func TestGet_NoMarketOmitsEmbed(t *testing.T) {
	h, proposals, _, _ := newTestHandler(t, safety.Classification{
		IsSafe:         true,
		Recommendation: safety.RecommendAllow,
	})
	now := time.Now().UTC()
	proposals.m["prop-2"] = domain.Proposal{
		ID: "prop-2", Status: domain.ProposalStatusSubmitted, CreatedAt: now, UpdatedAt: now,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/proposals/prop-2", nil)
	req.SetPathValue("id", "prop-2")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
	data := decodeData(t, rec.Body)
	if _, ok := data["draft_market"]; ok {
		t.Fatalf("draft_market present in %v, want omitted", data)
	}
}
