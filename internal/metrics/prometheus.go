package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using Prometheus
type PrometheusMetrics struct {
	// Decision metrics
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	superAdminBypass prometheus.Counter
	batchSize        prometheus.Histogram
	conditionErrors  prometheus.Counter

	// Hydration metrics
	hydrationsTotal   *prometheus.CounterVec
	hydrationDuration prometheus.Histogram
	roleCacheHits     prometheus.Counter
	roleCacheMisses   prometheus.Counter
	reloadsTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance on its own registry
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by result",
		},
		[]string{"result"},
	)

	// Evaluation after hydration is in-memory; hydration dominates the tail
	decisionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_microseconds",
			Help:      "Authorization decision latency in microseconds, hydration included",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000, 50000},
		},
	)

	superAdminBypass := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "super_admin_bypass_total",
			Help:      "Total number of decisions short-circuited by a super-admin role",
		},
	)

	batchSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_checks",
			Help:      "Number of checks per batch authorization call",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	conditionErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "condition_errors_total",
			Help:      "Total number of checks failed closed because of malformed policy data",
		},
	)

	hydrationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hydration",
			Name:      "requests_total",
			Help:      "Total number of role hydration calls by status",
		},
		[]string{"status"},
	)

	hydrationDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hydration",
			Name:      "duration_milliseconds",
			Help:      "Role hydration latency in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		},
	)

	roleCacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role_cache",
			Name:      "hits_total",
			Help:      "Total number of roles served from cache",
		},
	)

	roleCacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role_cache",
			Name:      "misses_total",
			Help:      "Total number of roles fetched from the backing store",
		},
	)

	reloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fixtures",
			Name:      "reloads_total",
			Help:      "Total number of role fixture reloads by outcome",
		},
		[]string{"success"},
	)

	registry.MustRegister(
		decisionsTotal,
		decisionDuration,
		superAdminBypass,
		batchSize,
		conditionErrors,
		hydrationsTotal,
		hydrationDuration,
		roleCacheHits,
		roleCacheMisses,
		reloadsTotal,
	)

	return &PrometheusMetrics{
		decisionsTotal:    decisionsTotal,
		decisionDuration:  decisionDuration,
		superAdminBypass:  superAdminBypass,
		batchSize:         batchSize,
		conditionErrors:   conditionErrors,
		hydrationsTotal:   hydrationsTotal,
		hydrationDuration: hydrationDuration,
		roleCacheHits:     roleCacheHits,
		roleCacheMisses:   roleCacheMisses,
		reloadsTotal:      reloadsTotal,
		registry:          registry,
	}
}

// RecordDecision records one authorization decision
func (p *PrometheusMetrics) RecordDecision(result string, duration time.Duration) {
	p.decisionsTotal.WithLabelValues(result).Inc()
	p.decisionDuration.Observe(float64(duration.Microseconds()))
}

// RecordSuperAdminBypass records a decision that skipped hydration
func (p *PrometheusMetrics) RecordSuperAdminBypass() {
	p.superAdminBypass.Inc()
}

// RecordBatch records the size of a batch call
func (p *PrometheusMetrics) RecordBatch(size int) {
	p.batchSize.Observe(float64(size))
}

// RecordConditionError records a check failed closed on bad policy data
func (p *PrometheusMetrics) RecordConditionError() {
	p.conditionErrors.Inc()
}

// RecordHydration records one hydrator round trip
func (p *PrometheusMetrics) RecordHydration(status string, duration time.Duration) {
	p.hydrationsTotal.WithLabelValues(status).Inc()
	p.hydrationDuration.Observe(float64(duration.Microseconds()) / 1000.0)
}

// RecordRoleCacheHits records roles served from cache
func (p *PrometheusMetrics) RecordRoleCacheHits(n int) {
	if n > 0 {
		p.roleCacheHits.Add(float64(n))
	}
}

// RecordRoleCacheMisses records roles that had to be fetched
func (p *PrometheusMetrics) RecordRoleCacheMisses(n int) {
	if n > 0 {
		p.roleCacheMisses.Add(float64(n))
	}
}

// RecordReload records a fixture reload attempt
func (p *PrometheusMetrics) RecordReload(success bool) {
	p.reloadsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Registry exposes the underlying registry for tests and custom collectors
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// HTTPHandler returns the Prometheus HTTP handler for /metrics endpoint
func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
