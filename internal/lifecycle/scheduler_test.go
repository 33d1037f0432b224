package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/quorumlabs/marketforge/internal/domain"
)

func TestFinalizeElapsed(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	marketID, r := seedResolved(t, e, now)

	// Window still open: nothing to finalize.
	e.setNow(now.Add(time.Hour))
	n, err := e.svc.FinalizeElapsed(ctx)
	if err != nil || n != 0 {
		t.Fatalf("early sweep n=%d err=%v want 0, nil", n, err)
	}

	e.setNow(now.Add(domain.DisputeWindow + time.Minute))
	n, err = e.svc.FinalizeElapsed(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("finalized=%d want 1", n)
	}
	got, _ := e.resolutions.GetByID(ctx, r.ID)
	if got.Status != domain.ResolutionStatusFinalized || got.FinalResult != domain.ResultYes {
		t.Fatalf("resolution=%+v want finalized, result unchanged", got)
	}
	m, _ := e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusFinalized {
		t.Fatalf("market status=%s want finalized", m.Status)
	}
}

func TestFinalizeElapsed_SkipsDisputed(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID, resID, _ := seedDisputed(t, e)

	e.setNow(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	n, err := e.svc.FinalizeElapsed(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// The resolution's window elapsed but the market already left resolved,
	// so the conditional market write fails and the sweep skips it.
	if n != 0 {
		t.Fatalf("finalized=%d want 0", n)
	}
	m, _ := e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusDisputed {
		t.Fatalf("market status=%s want disputed", m.Status)
	}
	r, _ := e.resolutions.GetByID(ctx, resID)
	if r.Status != domain.ResolutionStatusResolved {
		t.Fatalf("resolution status=%s want resolved, left open for the dispute flow", r.Status)
	}
}

func TestSweepExpiredMarkets(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	marketID := seedActive(t, e)

	m, _ := e.markets.GetByID(ctx, marketID)
	e.setNow(m.Rules.Expiry.Add(time.Minute))

	n, err := e.svc.SweepExpiredMarkets(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept=%d want 1", n)
	}
	m, _ = e.markets.GetByID(ctx, marketID)
	if m.Status != domain.MarketStatusResolving {
		t.Fatalf("market status=%s want resolving", m.Status)
	}
	var msg domain.ResolveMessage
	if err := json.Unmarshal(e.bus.last(domain.QueueMarketsResolve), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.MarketID != marketID || msg.Title == "" || msg.Rules.ExactQuestion == "" {
		t.Fatalf("message=%+v want self-contained resolve request", msg)
	}

	// Second sweep finds nothing: the market is no longer active.
	n, err = e.svc.SweepExpiredMarkets(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep n=%d err=%v want 0, nil", n, err)
	}
}

func TestRequeueStaleSubmitted(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	e.bus.failNext = true
	p, err := e.svc.SubmitProposal(ctx, SubmitInput{
		Text: "An announcement whose enqueue the broker dropped on the floor",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Fresher than the cutoff: untouched.
	n, err := e.svc.RequeueStaleSubmitted(ctx, 10*time.Minute)
	if err != nil || n != 0 {
		t.Fatalf("fresh sweep n=%d err=%v want 0, nil", n, err)
	}

	e.proposals.mu.Lock()
	stale := e.proposals.m[p.ID]
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	e.proposals.m[p.ID] = stale
	e.proposals.mu.Unlock()

	n, err = e.svc.RequeueStaleSubmitted(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued=%d want 1", n)
	}
	var msg domain.NewsRawMessage
	if err := json.Unmarshal(e.bus.last(domain.QueueNewsRaw), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ProposalID != p.ID || msg.Text != p.Text {
		t.Fatalf("message=%+v want proposal %s", msg, p.ID)
	}
	got, _ := e.proposals.GetByID(ctx, p.ID)
	if got.Status != domain.ProposalStatusSubmitted {
		t.Fatalf("status=%s want submitted", got.Status)
	}

	// The requeue touched updated_at, so the next sweep skips it.
	n, err = e.svc.RequeueStaleSubmitted(ctx, 10*time.Minute)
	if err != nil || n != 0 {
		t.Fatalf("repeat sweep n=%d err=%v want 0, nil", n, err)
	}
}

func TestExpireStaleProposals(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	propID, _ := seedCandidate(t, e) // proposal now processing

	// Fresher than the cutoff: untouched.
	n, err := e.svc.ExpireStaleProposals(ctx, 24*time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("fresh sweep n=%d err=%v want 0, nil", n, err)
	}

	e.proposals.mu.Lock()
	p := e.proposals.m[propID]
	p.UpdatedAt = time.Now().Add(-48 * time.Hour)
	e.proposals.m[propID] = p
	e.proposals.mu.Unlock()

	n, err = e.svc.ExpireStaleProposals(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired=%d want 1", n)
	}
	got, _ := e.proposals.GetByID(ctx, propID)
	if got.Status != domain.ProposalStatusFailed {
		t.Fatalf("proposal status=%s want failed", got.Status)
	}
}
