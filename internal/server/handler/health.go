package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/quorumlabs/marketforge/internal/metrics"
)

// Pinger reports reachability of one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness. Liveness is unconditional;
// readiness pings the database and the broker and reflects the result into
// the metrics gauges.
type HealthHandler struct {
	db      Pinger
	broker  Pinger
	metrics *metrics.Metrics
	started time.Time
}

// NewHealthHandler creates the handler. db and broker may be nil in
// single-concern deployments.
func NewHealthHandler(db, broker Pinger, m *metrics.Metrics) *HealthHandler {
	return &HealthHandler{
		db:      db,
		broker:  broker,
		metrics: m,
		started: time.Now(),
	}
}

// Health is the liveness probe.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Ready is the readiness probe.
// GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if h.db != nil {
		up := 1.0
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
			up = 0
		} else {
			checks["database"] = "ok"
		}
		if h.metrics != nil {
			h.metrics.DBUp.Set(up)
		}
	}
	if h.broker != nil {
		up := 1.0
		if err := h.broker.Ping(ctx); err != nil {
			checks["broker"] = err.Error()
			ready = false
			up = 0
		} else {
			checks["broker"] = "ok"
		}
		if h.metrics != nil {
			h.metrics.BrokerUp.Set(up)
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeData(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}
