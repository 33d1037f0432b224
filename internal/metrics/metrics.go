// Package metrics exposes Prometheus instrumentation for the API server and
// the pipeline workers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector on a private registry so tests can create
// independent instances without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	Up            prometheus.Gauge
	Uptime        prometheus.GaugeFunc
	DBUp          prometheus.Gauge
	BrokerUp      prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	Messages      *prometheus.CounterVec
	DeadLetters   *prometheus.CounterVec
	Reports       *prometheus.CounterVec
	RateLimited   *prometheus.CounterVec
	SafetyBlocked *prometheus.CounterVec
}

// New creates all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
	}

	m.Up = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketforge_up",
		Help: "1 while the process is running.",
	})
	m.Uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "marketforge_uptime_seconds",
		Help: "Seconds since process start.",
	}, func() float64 {
		return time.Since(m.started).Seconds()
	})
	m.DBUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketforge_db_up",
		Help: "1 when the last database ping succeeded.",
	})
	m.BrokerUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketforge_broker_up",
		Help: "1 when the last broker ping succeeded.",
	})
	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketforge_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketforge_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	m.Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketforge_messages_processed_total",
		Help: "Broker messages by queue and outcome (ok, error, dead_letter).",
	}, []string{"queue", "outcome"})
	m.DeadLetters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketforge_dead_letters_total",
		Help: "Messages moved to a dead-letter queue.",
	}, []string{"queue"})
	m.Reports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketforge_reports_total",
		Help: "Worker lifecycle reports by stage and outcome.",
	}, []string{"stage", "outcome"})
	m.RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketforge_rate_limited_total",
		Help: "Requests rejected by admission control, by endpoint class and window.",
	}, []string{"class", "window"})
	m.SafetyBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketforge_safety_blocked_total",
		Help: "Submissions blocked by the content safety filter, by category.",
	}, []string{"category"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Up, m.Uptime, m.DBUp, m.BrokerUp,
		m.HTTPRequests, m.HTTPDuration,
		m.Messages, m.DeadLetters, m.Reports,
		m.RateLimited, m.SafetyBlocked,
	)
	m.Up.Set(1)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
