package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// seedActive walks the full pipeline to an active, on-chain market.
func seedActive(t *testing.T, e *env) (marketID string) {
	t.Helper()
	_, marketID = seedApproved(t, e)
	if err := e.svc.ReportPublished(context.Background(), PublishedInput{
		MarketID:      marketID,
		MarketAddress: "0x00000000000000000000000000000000000000aa",
	}, "worker:publisher"); err != nil {
		t.Fatalf("seed publish: %v", err)
	}
	return marketID
}

func TestReportResolution_OpensDisputeWindow(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID := seedActive(t, e)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e.setNow(now)

	r, err := e.svc.ReportResolution(ctx, ResolutionInput{
		MarketID:    marketID,
		FinalResult: domain.ResultYes,
		Source:      "https://example.org/press",
		EvidenceRaw: []byte(`{"headline":"confirmed"}`),
	}, "worker:resolver")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := now.Add(domain.DisputeWindow); !r.DisputeWindowEnd.Equal(want) {
		t.Fatalf("dispute_window_end=%v want %v", r.DisputeWindowEnd, want)
	}
	if r.EvidenceHash == "" {
		t.Fatalf("evidence hash must be set")
	}
	m, _ := e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusResolved {
		t.Fatalf("market status=%s want resolved", m.Status)
	}
	if got := e.audit.lastAction(); got != "market.resolved" {
		t.Fatalf("audit action=%s want market.resolved", got)
	}
}

func TestReportResolution_InvalidResult(t *testing.T) {
	e := newEnv()
	_, err := e.svc.ReportResolution(context.Background(), ResolutionInput{
		MarketID:    "m1",
		FinalResult: "MAYBE",
		Source:      "https://example.org",
		EvidenceRaw: []byte("{}"),
	}, "worker:resolver")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
}

func TestReportResolution_DisallowedSource(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID := seedActive(t, e)

	// Pin the market to a single allowed source.
	e.markets.mu.Lock()
	m := e.markets.m[marketID]
	m.Rules.AllowedSources = []domain.ResolutionSource{{Name: "official", URL: "https://official.example.org"}}
	e.markets.m[marketID] = m
	e.markets.mu.Unlock()

	_, err := e.svc.ReportResolution(ctx, ResolutionInput{
		MarketID:    marketID,
		FinalResult: domain.ResultNo,
		Source:      "https://blog.example.org",
		EvidenceRaw: []byte("{}"),
	}, "worker:resolver")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
	got, _ := e.markets.GetByID(ctx, marketID)
	if got.Status != domain.MarketStatusActive {
		t.Fatalf("market status=%s want active, rejected source must not transition", got.Status)
	}
}

func TestReportResolution_ReplayLosesOnMarketStatus(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID := seedActive(t, e)
	in := ResolutionInput{
		MarketID:    marketID,
		FinalResult: domain.ResultYes,
		Source:      "https://example.org",
		EvidenceRaw: []byte("{}"),
	}
	if _, err := e.svc.ReportResolution(ctx, in, "worker:resolver"); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := e.svc.ReportResolution(ctx, in, "worker:resolver")
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("replay err=%v want ErrInvalidStatus", err)
	}
}

// seedResolved resolves an active market and returns the resolution.
func seedResolved(t *testing.T, e *env, now time.Time) (marketID string, r *domain.Resolution) {
	t.Helper()
	marketID = seedActive(t, e)
	e.setNow(now)
	r, err := e.svc.ReportResolution(context.Background(), ResolutionInput{
		MarketID:    marketID,
		FinalResult: domain.ResultYes,
		Source:      "https://example.org/press",
		EvidenceRaw: []byte(`{"headline":"confirmed"}`),
	}, "worker:resolver")
	if err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	return marketID, r
}

func TestOpenDispute_InsideWindow(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	marketID, r := seedResolved(t, e, now)
	e.setNow(now.Add(time.Hour))

	d, err := e.svc.OpenDispute(ctx, DisputeInput{
		ResolutionID: r.ID,
		Disputer:     "198.51.100.4",
		Reason:       "source misread the announcement",
		EvidenceURLs: []string{"https://other.example.org"},
	})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if d.Status != domain.DisputeStatusPending {
		t.Fatalf("status=%s want pending", d.Status)
	}
	m, _ := e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusDisputed {
		t.Fatalf("market status=%s want disputed", m.Status)
	}
	var msg domain.DisputeMessage
	if err := json.Unmarshal(e.bus.last(domain.QueueDisputes), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.DisputeID != d.ID || msg.MarketID != marketID || msg.FinalResult != domain.ResultYes {
		t.Fatalf("message=%+v incomplete", msg)
	}
}

func TestOpenDispute_FlaggedOpensEscalated(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	marketID, r := seedResolved(t, e, now)
	e.setNow(now.Add(time.Hour))

	d, err := e.svc.OpenDispute(ctx, DisputeInput{
		ResolutionID: r.ID,
		Reason:       "a reason the safety classifier wants a human to read",
		NeedsReview:  true,
	})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if d.Status != domain.DisputeStatusEscalated {
		t.Fatalf("status=%s want escalated", d.Status)
	}
	// Held for a human, never handed to the dispute agent.
	if n := e.bus.count(domain.QueueDisputes); n != 0 {
		t.Fatalf("disputes messages=%d want 0", n)
	}
	m, _ := e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusDisputed {
		t.Fatalf("market status=%s want disputed", m.Status)
	}
}

func TestOpenDispute_WindowClosed(t *testing.T) {
	e := newEnv()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_, r := seedResolved(t, e, now)
	e.setNow(now.Add(domain.DisputeWindow + time.Minute))

	_, err := e.svc.OpenDispute(context.Background(), DisputeInput{
		ResolutionID: r.ID,
		Reason:       "too late anyway",
	})
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("err=%v want ErrInvalidStatus", err)
	}
}

func TestOpenDispute_OnePerResolution(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_, r := seedResolved(t, e, now)
	e.setNow(now.Add(time.Hour))

	if _, err := e.svc.OpenDispute(ctx, DisputeInput{ResolutionID: r.ID, Reason: "first"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := e.svc.OpenDispute(ctx, DisputeInput{ResolutionID: r.ID, Reason: "second"})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("err=%v want ErrDuplicate", err)
	}
}

// seedDisputed opens a dispute on a fresh resolution.
func seedDisputed(t *testing.T, e *env) (marketID string, resolutionID, disputeID string) {
	t.Helper()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	marketID, r := seedResolved(t, e, now)
	e.setNow(now.Add(time.Hour))
	d, err := e.svc.OpenDispute(context.Background(), DisputeInput{
		ResolutionID: r.ID,
		Disputer:     "198.51.100.4",
		Reason:       "evidence contradicts the result",
	})
	if err != nil {
		t.Fatalf("seed dispute: %v", err)
	}
	return marketID, r.ID, d.ID
}

func TestReportDisputeReview_UpheldFinalizes(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID, resID, dispID := seedDisputed(t, e)
	published := e.bus.count(domain.QueueMarketsPublish)

	err := e.svc.ReportDisputeReview(ctx, DisputeReviewInput{
		DisputeID:  dispID,
		Decision:   domain.DisputeStatusUpheld,
		Reasoning:  "original evidence is authoritative",
		Confidence: 0.9,
	}, "worker:disputer")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	r, _ := e.resolutions.GetByID(ctx, resID)
	if r.Status != domain.ResolutionStatusFinalized || r.FinalResult != domain.ResultYes {
		t.Fatalf("resolution=%+v want finalized with original result", r)
	}
	m, _ := e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusFinalized {
		t.Fatalf("market status=%s want finalized", m.Status)
	}
	if n := e.bus.count(domain.QueueMarketsPublish); n != published {
		t.Fatalf("publish messages=%d want %d, upheld must not publish", n, published)
	}
}

func TestReportDisputeReview_OverturnedRewritesResult(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID, resID, dispID := seedDisputed(t, e)

	err := e.svc.ReportDisputeReview(ctx, DisputeReviewInput{
		DisputeID:  dispID,
		Decision:   domain.DisputeStatusOverturned,
		NewResult:  domain.ResultNo,
		Reasoning:  "disputer evidence postdates the source",
		Confidence: 0.85,
	}, "worker:disputer")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	r, _ := e.resolutions.GetByID(ctx, resID)
	if r.Status != domain.ResolutionStatusFinalized || r.FinalResult != domain.ResultNo {
		t.Fatalf("resolution=%+v want finalized with NO", r)
	}
	var msg domain.PublishMessage
	if err := json.Unmarshal(e.bus.last(domain.QueueMarketsPublish), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != domain.PublishKindResolutionUpdate || msg.MarketID != marketID || msg.NewResult != domain.ResultNo {
		t.Fatalf("message=%+v want resolution_update with NO", msg)
	}
}

func TestReportDisputeReview_OverturnedRequiresNewResult(t *testing.T) {
	e := newEnv()
	_, _, dispID := seedDisputed(t, e)
	err := e.svc.ReportDisputeReview(context.Background(), DisputeReviewInput{
		DisputeID: dispID,
		Decision:  domain.DisputeStatusOverturned,
	}, "worker:disputer")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
}

func TestReportDisputeReview_EscalatedLeavesMarketDisputed(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID, _, dispID := seedDisputed(t, e)

	err := e.svc.ReportDisputeReview(ctx, DisputeReviewInput{
		DisputeID: dispID,
		Decision:  domain.DisputeStatusEscalated,
		Reasoning: "conflicting evidence, needs a human",
	}, "worker:disputer")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	m, _ := e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusDisputed {
		t.Fatalf("market status=%s want disputed", m.Status)
	}
	d, _ := e.disputes.GetByID(ctx, dispID)
	if d.Status != domain.DisputeStatusEscalated {
		t.Fatalf("dispute status=%s want escalated", d.Status)
	}
}

func TestAdminResolveDispute_DecidesEscalated(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID, resID, dispID := seedDisputed(t, e)
	if err := e.svc.ReportDisputeReview(ctx, DisputeReviewInput{
		DisputeID: dispID,
		Decision:  domain.DisputeStatusEscalated,
	}, "worker:disputer"); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	if err := e.svc.AdminResolveDispute(ctx, dispID, domain.DisputeStatusOverturned, domain.ResultNo, "0xadmin", "verifiable correction"); err != nil {
		t.Fatalf("admin resolve: %v", err)
	}
	r, _ := e.resolutions.GetByID(ctx, resID)
	if r.Status != domain.ResolutionStatusFinalized || r.FinalResult != domain.ResultNo {
		t.Fatalf("resolution=%+v want finalized with NO", r)
	}
	m, _ := e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusFinalized {
		t.Fatalf("market status=%s want finalized", m.Status)
	}
}

func TestAdminResolveDispute_RejectsEscalateDecision(t *testing.T) {
	e := newEnv()
	_, _, dispID := seedDisputed(t, e)
	err := e.svc.AdminResolveDispute(context.Background(), dispID, domain.DisputeStatusEscalated, "", "0xadmin", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
}

func TestAdminResolveDispute_RequiresEscalatedStatus(t *testing.T) {
	e := newEnv()
	_, _, dispID := seedDisputed(t, e)
	// Dispute is still pending, not escalated.
	err := e.svc.AdminResolveDispute(context.Background(), dispID, domain.DisputeStatusUpheld, "", "0xadmin", "")
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("err=%v want ErrInvalidStatus", err)
	}
}
