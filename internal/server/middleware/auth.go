package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/quorumlabs/marketforge/internal/auth"
	"github.com/quorumlabs/marketforge/internal/domain"
)

type contextKey string

const (
	workerClaimsKey contextKey = "worker_claims"
	adminKey        contextKey = "admin"
)

// WorkerClaimsFrom returns the verified worker claims placed in the context
// by WorkerAuth.
func WorkerClaimsFrom(ctx context.Context) (auth.WorkerClaims, bool) {
	c, ok := ctx.Value(workerClaimsKey).(auth.WorkerClaims)
	return c, ok
}

// AdminFrom returns the resolved admin placed in the context by AdminAuth.
func AdminFrom(ctx context.Context) (auth.Admin, bool) {
	a, ok := ctx.Value(adminKey).(auth.Admin)
	return a, ok
}

// WorkerAuth verifies the Bearer JWT, checks the worker type against the
// allowed set and the permission when one is required, and stores the claims
// in the request context. Type mismatches are 403s that name the allowed
// types so a misconfigured worker is diagnosable from its own logs.
func WorkerAuth(jwt auth.JWT, perm string, allowed ...domain.WorkerType) func(http.Handler) http.Handler {
	allowedSet := make(map[domain.WorkerType]bool, len(allowed))
	names := make([]string, 0, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
		names = append(names, string(t))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
				return
			}

			claims, err := jwt.Verify(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "token_expired", "token invalid or expired", nil)
				return
			}

			if len(allowedSet) > 0 && !allowedSet[claims.WorkerType] {
				writeAuthError(w, http.StatusForbidden, "forbidden",
					"worker type not allowed on this endpoint",
					map[string]any{"allowed_types": names})
				return
			}

			if perm != "" && !claims.HasPermission(perm) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "missing permission: "+perm, nil)
				return
			}

			ctx := context.WithValue(r.Context(), workerClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth resolves the X-Admin-Address header against the allow-list and
// checks the required permission. Unknown addresses are indistinguishable
// from missing ones.
func AdminAuth(registry *auth.AdminRegistry, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := strings.TrimSpace(r.Header.Get("X-Admin-Address"))
			if addr == "" {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "missing admin address", nil)
				return
			}

			admin, ok := registry.Resolve(addr)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "unknown admin address", nil)
				return
			}

			if perm != "" && !admin.HasPermission(perm) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "missing permission: "+perm, nil)
				return
			}

			ctx := context.WithValue(r.Context(), adminKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeAuthError emits the API error envelope without importing the handler
// package.
func writeAuthError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	body := map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if details != nil {
		body["error"].(map[string]any)["details"] = details
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
