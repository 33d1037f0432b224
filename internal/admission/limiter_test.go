package admission

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quorumlabs/marketforge/internal/domain"
)

type memCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemCounters() *memCounters {
	return &memCounters{counts: make(map[string]int)}
}

func (s *memCounters) key(identifier, endpoint string, w domain.WindowType, start time.Time) string {
	return identifier + "|" + endpoint + "|" + string(w) + "|" + start.Format(time.RFC3339)
}

func (s *memCounters) Increment(_ context.Context, identifier, endpoint string, w domain.WindowType, start time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(identifier, endpoint, w, start)
	s.counts[k]++
	return s.counts[k], nil
}

func (s *memCounters) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// total sums counts across windows of one granularity for an identifier.
func (s *memCounters) total(identifier string, w domain.WindowType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.counts {
		if strings.HasPrefix(k, identifier+"|") && strings.Contains(k, "|"+string(w)+"|") {
			n += v
		}
	}
	return n
}

func testLimiter(store domain.RateLimitStore, limits Limits, now time.Time) *Limiter {
	l := NewLimiter(store, limits)
	l.now = func() time.Time { return now }
	return l
}

func TestCheck_AllowsUpToLimit(t *testing.T) {
	store := newMemCounters()
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	l := testLimiter(store, Limits{
		ClassPropose: {{Window: domain.WindowMinute, Limit: 3}},
	}, now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, results, err := l.Check(ctx, "203.0.113.7", "/api/proposals", ClassPropose)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v want allowed", i+1, ok, err)
		}
		if got := results[0].Remaining; got != 3-(i+1) {
			t.Fatalf("request %d remaining=%d want %d", i+1, got, 3-(i+1))
		}
	}

	ok, results, err := l.Check(ctx, "203.0.113.7", "/api/proposals", ClassPropose)
	if err != nil {
		t.Fatalf("fourth request: %v", err)
	}
	if ok {
		t.Fatalf("fourth request allowed, want rejected")
	}
	last := results[len(results)-1]
	if last.Allowed || last.Remaining != 0 {
		t.Fatalf("rejecting result=%+v want Allowed=false Remaining=0", last)
	}
	if want := now.Truncate(time.Minute).Add(time.Minute); !last.ResetAt.Equal(want) {
		t.Fatalf("reset_at=%v want %v", last.ResetAt, want)
	}
}

func TestCheck_IdentifiersIsolated(t *testing.T) {
	store := newMemCounters()
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	l := testLimiter(store, Limits{
		ClassPropose: {{Window: domain.WindowMinute, Limit: 1}},
	}, now)
	ctx := context.Background()

	if ok, _, _ := l.Check(ctx, "a", "/api/proposals", ClassPropose); !ok {
		t.Fatalf("first identifier rejected")
	}
	if ok, _, _ := l.Check(ctx, "b", "/api/proposals", ClassPropose); !ok {
		t.Fatalf("second identifier shares the first's counter")
	}
}

func TestCheck_WindowRollover(t *testing.T) {
	store := newMemCounters()
	now := time.Date(2026, 8, 1, 10, 30, 59, 0, time.UTC)
	l := testLimiter(store, Limits{
		ClassPropose: {{Window: domain.WindowMinute, Limit: 1}},
	}, now)
	ctx := context.Background()

	if ok, _, _ := l.Check(ctx, "a", "/p", ClassPropose); !ok {
		t.Fatalf("first rejected")
	}
	if ok, _, _ := l.Check(ctx, "a", "/p", ClassPropose); ok {
		t.Fatalf("second allowed inside the same minute")
	}

	l.now = func() time.Time { return now.Add(time.Second) } // next minute
	if ok, _, _ := l.Check(ctx, "a", "/p", ClassPropose); !ok {
		t.Fatalf("request after rollover rejected")
	}
}

func TestCheck_ShortCircuitSkipsCoarserWindows(t *testing.T) {
	store := newMemCounters()
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	l := testLimiter(store, Limits{
		ClassPropose: {
			{Window: domain.WindowMinute, Limit: 1},
			{Window: domain.WindowHour, Limit: 100},
		},
	}, now)
	ctx := context.Background()

	if ok, _, _ := l.Check(ctx, "a", "/p", ClassPropose); !ok {
		t.Fatalf("first rejected")
	}
	ok, results, _ := l.Check(ctx, "a", "/p", ClassPropose)
	if ok {
		t.Fatalf("second allowed")
	}
	if len(results) != 1 {
		t.Fatalf("results=%d want 1, rejection must short-circuit", len(results))
	}
	if got := store.total("a", domain.WindowHour); got != 1 {
		t.Fatalf("hour counter=%d want 1, rejected request must not consume coarser windows", got)
	}
}

func TestSchedule_FallsBackToDefault(t *testing.T) {
	l := NewLimiter(newMemCounters(), Limits{
		ClassDefault: {{Window: domain.WindowMinute, Limit: 10}},
	})
	s := l.Schedule(ClassDispute)
	if len(s) != 1 || s[0].Limit != 10 {
		t.Fatalf("schedule=%+v want default class fallback", s)
	}
}

func TestDefaultLimits_DropsZeroBudgets(t *testing.T) {
	limits := DefaultLimits(5, 20, 0, 3, 10, 30, 0)
	if got := len(limits[ClassPropose]); got != 2 {
		t.Fatalf("propose windows=%d want 2, zero day budget must be dropped", got)
	}
	if got := len(limits[ClassDefault]); got != 1 {
		t.Fatalf("default windows=%d want 1", got)
	}
}

type stubLocks struct {
	held bool
}

func (s *stubLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if s.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func TestSweep_HeldLockIsNotAnError(t *testing.T) {
	s := NewSweeper(newMemCounters(), &stubLocks{held: true}, 24*time.Hour, slog.Default())
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep under held lock: %v", err)
	}
}
