package domain

import (
	"testing"
	"time"
)

func TestWindowTypeFloor(t *testing.T) {
	at := time.Date(2026, 8, 1, 13, 47, 23, 500, time.UTC)
	cases := []struct {
		window WindowType
		want   time.Time
	}{
		{WindowMinute, time.Date(2026, 8, 1, 13, 47, 0, 0, time.UTC)},
		{WindowHour, time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)},
		{WindowDay, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := tc.window.Floor(at); !got.Equal(tc.want) {
			t.Fatalf("%s floor=%v want %v", tc.window, got, tc.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 1, 13, 47, 30, 0, time.UTC)
	r := AdmissionResult{ResetAt: now.Add(29*time.Second + 500*time.Millisecond)}
	if got := r.RetryAfter(now); got != 30 {
		t.Fatalf("retry_after=%d want 30, partial seconds round up", got)
	}
	// A reset in the past still tells the client to wait at least a second.
	r = AdmissionResult{ResetAt: now.Add(-time.Minute)}
	if got := r.RetryAfter(now); got != 1 {
		t.Fatalf("retry_after=%d want 1", got)
	}
}

func TestQueueDLQPairing(t *testing.T) {
	if got := DLQName(QueueCandidates); got != "candidates.dlq" {
		t.Fatalf("dlq=%s want candidates.dlq", got)
	}
	for _, q := range AllQueues {
		want := q != QueueConfigRefresh
		if HasDLQ(q) != want {
			t.Fatalf("HasDLQ(%s)=%v want %v", q, HasDLQ(q), want)
		}
	}
}

func TestWorkerTypeValid(t *testing.T) {
	for _, wt := range AllWorkerTypes {
		if !wt.Valid() {
			t.Fatalf("%s not valid", wt)
		}
	}
	if WorkerType("janitor").Valid() {
		t.Fatalf("unknown type accepted")
	}
}

func TestProposalStatusTerminal(t *testing.T) {
	terminal := map[ProposalStatus]bool{
		ProposalStatusSubmitted:     false,
		ProposalStatusProcessing:    false,
		ProposalStatusPendingReview: false,
		ProposalStatusNeedsHuman:    false,
		ProposalStatusApproved:      false,
		ProposalStatusRejected:      true,
		ProposalStatusPublished:     true,
		ProposalStatusFailed:        true,
	}
	for s, want := range terminal {
		if s.Terminal() != want {
			t.Fatalf("%s terminal=%v want %v", s, s.Terminal(), want)
		}
	}
}

func TestResolutionResultValid(t *testing.T) {
	if !ResultYes.Valid() || !ResultNo.Valid() {
		t.Fatalf("YES/NO must be valid")
	}
	for _, bad := range []ResolutionResult{"", "yes", "MAYBE"} {
		if bad.Valid() {
			t.Fatalf("%q accepted", bad)
		}
	}
}
