// Package metrics provides Prometheus metrics for the incentive engine.
//
// Each Metrics owns its registry so tests and multiple servers in one
// process never collide on registration. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "incentive"

// Metrics holds every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	sales         prometheus.Counter
	refunds       prometheus.Counter
	adjustments   prometheus.Counter
	reversals     prometheus.Counter
	unlocks       prometheus.Counter
	scanRuns      *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "standing_evaluations_total",
			Help:      "Tier standings evaluated, by standing kind.",
		}, []string{"kind"}),
		sales: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_recorded_total",
			Help:      "Sales appended to the spend ledger.",
		}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_recorded_total",
			Help:      "Refunds appended to the spend ledger.",
		}),
		adjustments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adjustments_recorded_total",
			Help:      "Manual adjustments appended to the spend ledger.",
		}),
		reversals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reversals_recorded_total",
			Help:      "Transactions reversed.",
		}),
		unlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_unlocks_total",
			Help:      "Prize unlocks recorded.",
		}),
		scanRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_scan_runs_total",
			Help:      "Unlock scanner passes, by outcome.",
		}, []string{"status"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unlock_scan_duration_seconds",
			Help:      "Duration of unlock scanner passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.evaluations, m.sales, m.refunds, m.adjustments, m.reversals, m.unlocks,
		m.scanRuns, m.scanDuration, m.httpRequests, m.httpDurations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) StandingEvaluated(kind string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SaleRecorded() {
	if m == nil {
		return
	}
	m.sales.Inc()
}

func (m *Metrics) RefundRecorded() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

func (m *Metrics) AdjustmentRecorded() {
	if m == nil {
		return
	}
	m.adjustments.Inc()
}

func (m *Metrics) ReversalRecorded() {
	if m == nil {
		return
	}
	m.reversals.Inc()
}

func (m *Metrics) TiersUnlocked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unlocks.Add(float64(n))
}

func (m *Metrics) ScanCompleted(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.scanRuns.WithLabelValues(status).Inc()
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) HTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDurations.WithLabelValues(route, method).Observe(d.Seconds())
}
