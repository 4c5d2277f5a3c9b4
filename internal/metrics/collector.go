// Package metrics provides internal metrics collection for the
// gateway. This package is internal and should not be imported by
// external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/typeflow/gateway"
)

// Collector implements gateway.Observer on Prometheus primitives.
type Collector struct {
	generateTotal    *prometheus.CounterVec
	generateDuration *prometheus.HistogramVec

	attemptTotal    *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the gateway metrics with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a private
// registry so parallel packages do not collide.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	return &Collector{
		generateTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generate_requests_total",
			Help:      "Gateway generation calls by tenant, serving provider and status.",
		}, []string{"tenant", "provider", "status"}),
		generateDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generate_duration_seconds",
			Help:      "End-to-end gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tenant", "status"}),
		attemptTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider attempts inside the failover loop by outcome code.",
		}, []string{"tenant", "provider", "code"}),
		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Single provider attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_hits_total",
			Help:      "Response cache hits.",
		}, []string{"tenant"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_misses_total",
			Help:      "Response cache misses.",
		}, []string{"tenant"}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// ObserveGenerate implements gateway.Observer.
func (c *Collector) ObserveGenerate(tenantID, providerType, status string, elapsed time.Duration) {
	if providerType == "" {
		providerType = "none"
	}
	c.generateTotal.WithLabelValues(tenantID, providerType, status).Inc()
	c.generateDuration.WithLabelValues(tenantID, status).Observe(elapsed.Seconds())
}

// ObserveAttempt implements gateway.Observer.
func (c *Collector) ObserveAttempt(tenantID, providerType string, code gateway.ErrorCode, elapsed time.Duration) {
	outcome := string(code)
	if outcome == "" {
		outcome = "ok"
	}
	c.attemptTotal.WithLabelValues(tenantID, providerType, outcome).Inc()
	c.attemptDuration.WithLabelValues(providerType).Observe(elapsed.Seconds())
}

// ObserveCache implements gateway.Observer.
func (c *Collector) ObserveCache(tenantID string, hit bool) {
	if hit {
		c.cacheHits.WithLabelValues(tenantID).Inc()
		return
	}
	c.cacheMisses.WithLabelValues(tenantID).Inc()
}
