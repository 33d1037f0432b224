package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quorumlabs/marketforge/internal/admission"
	"github.com/quorumlabs/marketforge/internal/auth"
	"github.com/quorumlabs/marketforge/internal/domain"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return body.Error.Code
}

func TestWorkerAuth(t *testing.T) {
	j := auth.JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}
	token, _, err := j.Sign(domain.WorkerExtractor, []string{auth.PermReportCandidates})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var seen auth.WorkerClaims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = WorkerClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := WorkerAuth(j, auth.PermReportCandidates, domain.WorkerExtractor)(inner)

	t.Run("valid token passes and sets claims", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/worker/candidates", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d want 200", rec.Code)
		}
		if seen.WorkerType != domain.WorkerExtractor {
			t.Fatalf("claims=%+v want extractor in context", seen)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/worker/candidates", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || decodeErrorCode(t, rec) != "unauthorized" {
			t.Fatalf("status=%d want 401 unauthorized", rec.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/worker/candidates", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || decodeErrorCode(t, rec) != "token_expired" {
			t.Fatalf("status=%d want 401 token_expired", rec.Code)
		}
	})

	t.Run("wrong worker type", func(t *testing.T) {
		wrongToken, _, _ := j.Sign(domain.WorkerResolver, []string{auth.PermReportCandidates})
		req := httptest.NewRequest(http.MethodPost, "/api/worker/candidates", nil)
		req.Header.Set("Authorization", "Bearer "+wrongToken)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status=%d want 403", rec.Code)
		}
	})

	t.Run("missing permission", func(t *testing.T) {
		bare, _, _ := j.Sign(domain.WorkerExtractor, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/worker/candidates", nil)
		req.Header.Set("Authorization", "Bearer "+bare)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status=%d want 403", rec.Code)
		}
	})
}

func TestAdminAuth(t *testing.T) {
	registry := auth.NewAdminRegistry(
		[]string{"0x52908400098527886E0F7030069857D2E4169EE7"}, nil)
	h := AdminAuth(registry, auth.PermProposalsReview)(okHandler())

	t.Run("listed address passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/proposals/p1/approve", nil)
		req.Header.Set("X-Admin-Address", "0x52908400098527886e0f7030069857d2e4169ee7")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d want 200", rec.Code)
		}
	})

	t.Run("unknown address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/proposals/p1/approve", nil)
		req.Header.Set("X-Admin-Address", "0x0000000000000000000000000000000000000001")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status=%d want 401", rec.Code)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/proposals/p1/approve", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status=%d want 401", rec.Code)
		}
	})
}

type memCounters struct {
	counts map[string]int
}

func (s *memCounters) Increment(_ context.Context, identifier, endpoint string, w domain.WindowType, start time.Time) (int, error) {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	k := identifier + "|" + endpoint + "|" + string(w) + "|" + start.Format(time.RFC3339)
	s.counts[k]++
	return s.counts[k], nil
}

func (s *memCounters) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func TestAdmit(t *testing.T) {
	limiter := admission.NewLimiter(&memCounters{}, admission.Limits{
		admission.ClassPropose: {{Window: domain.WindowMinute, Limit: 2}},
	})
	h := Admit(limiter, admission.ClassPropose, nil)(okHandler())

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/proposals", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("203.0.113.7"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status=%d want 200", i+1, rec.Code)
		}
	}

	rec := do("203.0.113.7")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", rec.Code)
	}
	if decodeErrorCode(t, rec) != "rate_limit_exceeded" {
		t.Fatalf("unexpected error code")
	}
	if rec.Header().Get("Retry-After") == "" ||
		rec.Header().Get("X-RateLimit-Remaining-minute") != "0" {
		t.Fatalf("headers=%v want Retry-After and exhausted minute window", rec.Header())
	}

	// Another client is unaffected.
	if rec := do("198.51.100.9"); rec.Code != http.StatusOK {
		t.Fatalf("other client status=%d want 200", rec.Code)
	}
}

func TestAdmit_KeysOnAuthenticatedWorker(t *testing.T) {
	j := auth.JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}
	token, _, err := j.Sign(domain.WorkerExtractor, []string{auth.PermReportCandidates})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	limiter := admission.NewLimiter(&memCounters{}, admission.Limits{
		admission.ClassDefault: {{Window: domain.WindowMinute, Limit: 2}},
	})
	h := WorkerAuth(j, auth.PermReportCandidates, domain.WorkerExtractor)(
		Admit(limiter, admission.ClassInternal, nil)(okHandler()))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/worker/candidates", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	// The budget follows the principal: changing source IP does not reset it.
	if rec := do("203.0.113.7"); rec.Code != http.StatusOK {
		t.Fatalf("first status=%d want 200", rec.Code)
	}
	if rec := do("198.51.100.9"); rec.Code != http.StatusOK {
		t.Fatalf("second status=%d want 200", rec.Code)
	}
	if rec := do("192.0.2.50"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third status=%d want 429", rec.Code)
	}
}

func TestAdmit_KeysOnAdminAddress(t *testing.T) {
	admins := auth.NewAdminRegistry(
		[]string{"0x52908400098527886E0F7030069857D2E4169EE7"}, nil)
	limiter := admission.NewLimiter(&memCounters{}, admission.Limits{
		admission.ClassDefault: {{Window: domain.WindowMinute, Limit: 1}},
	})
	h := AdminAuth(admins, auth.PermProposalsReview)(
		Admit(limiter, admission.ClassInternal, nil)(okHandler()))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/proposals/p1/approve", nil)
		req.Header.Set("X-Admin-Address", "0x52908400098527886e0f7030069857d2e4169ee7")
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("203.0.113.7"); rec.Code != http.StatusOK {
		t.Fatalf("first status=%d want 200", rec.Code)
	}
	if rec := do("198.51.100.9"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d want 429", rec.Code)
	}
}

func TestCorrelation(t *testing.T) {
	var seen string
	h := Correlation()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("caller id is carried through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/proposals", nil)
		req.Header.Set("X-Correlation-Id", "corr-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if seen != "corr-123" {
			t.Fatalf("context id=%q want corr-123", seen)
		}
		if got := rec.Header().Get("X-Correlation-Id"); got != "corr-123" {
			t.Fatalf("response header=%q want corr-123", got)
		}
	})

	t.Run("missing id is generated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/proposals", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if seen == "" {
			t.Fatal("no id placed in context")
		}
		if got := rec.Header().Get("X-Correlation-Id"); got != seen {
			t.Fatalf("response header=%q context=%q want matching ids", got, seen)
		}
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4242"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Fatalf("ip=%s want socket host", got)
	}

	req.Header.Set("X-Real-IP", "198.51.100.9")
	if got := clientIP(req); got != "198.51.100.9" {
		t.Fatalf("ip=%s want X-Real-IP", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("ip=%s want first X-Forwarded-For hop", got)
	}
}
