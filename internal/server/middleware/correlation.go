package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type correlationKey struct{}

// Correlation tags every request with the caller's X-Correlation-Id, or a
// fresh UUID when the caller sent none. The id rides the request context
// into handlers and logs and is echoed on the response so callers can
// quote it back.
func Correlation() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set("X-Correlation-Id", id)
			ctx := context.WithValue(r.Context(), correlationKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationIDFrom returns the request's correlation id, empty when the
// middleware did not run.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
