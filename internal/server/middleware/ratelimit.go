package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quorumlabs/marketforge/internal/admission"
	"github.com/quorumlabs/marketforge/internal/metrics"
)

// Admit applies persistent multi-window rate limiting to an endpoint class.
// The identifier is the authenticated principal when an auth middleware ran
// earlier in the chain, the client IP otherwise; counters live in the
// database so limits hold across restarts and replicas. Limiter errors fail
// open: admission control protects downstream AI spend, it must not take
// the API down with it.
func Admit(limiter *admission.Limiter, class admission.EndpointClass, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := principal(r)
			endpoint := r.Pattern
			if endpoint == "" {
				endpoint = r.URL.Path
			}

			allowed, results, err := limiter.Check(r.Context(), identifier, endpoint, class)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			for _, res := range results {
				suffix := "-" + string(res.Window)
				w.Header().Set("X-RateLimit-Limit"+suffix, strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining"+suffix, strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset"+suffix, strconv.FormatInt(res.ResetAt.Unix(), 10))
			}

			if !allowed {
				rejecting := results[len(results)-1]
				if m != nil {
					m.RateLimited.WithLabelValues(string(class), string(rejecting.Window)).Inc()
				}
				retry := rejecting.RetryAfter(time.Now().UTC())
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeAuthError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
					"rate limit exceeded, retry later",
					map[string]any{
						"window":      string(rejecting.Window),
						"limit":       rejecting.Limit,
						"retry_after": retry,
					})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// principal identifies the caller for rate limiting. Authenticated callers
// are keyed by who they are, not where they connect from, so a worker fleet
// behind one NAT still gets one budget per principal.
func principal(r *http.Request) string {
	if a, ok := AdminFrom(r.Context()); ok {
		return "admin:" + a.Address
	}
	if c, ok := WorkerClaimsFrom(r.Context()); ok {
		return "worker:" + string(c.WorkerType)
	}
	return clientIP(r)
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
