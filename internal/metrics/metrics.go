// Package metrics provides observability for the authorization engine
package metrics

import (
	"net/http"
	"time"
)

// Decision results recorded by RecordDecision
const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
	ResultError = "error"
)

// Hydration statuses recorded by RecordHydration
const (
	HydrationOK       = "ok"
	HydrationError    = "error"
	HydrationCanceled = "canceled"
)

// Metrics provides observability for the authorization engine
type Metrics interface {
	// Decision metrics
	RecordDecision(result string, duration time.Duration)
	RecordSuperAdminBypass()
	RecordBatch(size int)
	RecordConditionError()

	// Hydration metrics
	RecordHydration(status string, duration time.Duration)
	RecordRoleCacheHits(n int)
	RecordRoleCacheMisses(n int)
	RecordReload(success bool)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordDecision(result string, duration time.Duration) {}
func (n *NoOpMetrics) RecordSuperAdminBypass()                              {}
func (n *NoOpMetrics) RecordBatch(size int)                                 {}
func (n *NoOpMetrics) RecordConditionError()                                {}

func (n *NoOpMetrics) RecordHydration(status string, duration time.Duration) {}
func (n *NoOpMetrics) RecordRoleCacheHits(count int)                         {}
func (n *NoOpMetrics) RecordRoleCacheMisses(count int)                       {}
func (n *NoOpMetrics) RecordReload(success bool)                             {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
