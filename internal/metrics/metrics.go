// Package metrics holds the Prometheus instruments for the engine, the
// vector index and the HTTP server. Every recording method is safe on a nil
// *Collector so components can run uninstrumented.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dermagraph"

// Collector holds all Prometheus metrics for the application.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SearchRequests *prometheus.CounterVec
	SearchDuration prometheus.Histogram
	SpaceFailures  *prometheus.CounterVec

	TraversalNodes prometheus.Histogram

	CompatibilityVerdicts *prometheus.CounterVec

	CorruptRecords *prometheus.CounterVec
	BreakerState   *prometheus.GaugeVec
}

// New creates the collector on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SearchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Hybrid searches by outcome (ok, partial, error)",
		}, []string{"outcome"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Hybrid search latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SpaceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_space_failures_total",
			Help:      "Vector index lookups that failed or timed out, by space",
		}, []string{"space"}),
		TraversalNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "causal_chain_nodes",
			Help:      "Nodes returned per causal chain traversal",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		CompatibilityVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compatibility_verdicts_total",
			Help:      "Compatibility analyses by verdict",
		}, []string{"verdict"}),
		CorruptRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_records_total",
			Help:      "Records excluded from results as corrupt, by component",
		}, []string{"component"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vector_index_breaker_open",
			Help:      "1 while the vector index breaker of a space is open",
		}, []string{"space"}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.SearchRequests,
		c.SearchDuration,
		c.SpaceFailures,
		c.TraversalNodes,
		c.CompatibilityVerdicts,
		c.CorruptRecords,
		c.BreakerState,
	)
	return c
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveHTTP(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) ObserveSearch(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.SearchRequests.WithLabelValues(outcome).Inc()
	c.SearchDuration.Observe(d.Seconds())
}

func (c *Collector) SpaceFailed(space string) {
	if c == nil {
		return
	}
	c.SpaceFailures.WithLabelValues(space).Inc()
}

func (c *Collector) ObserveTraversal(nodes int) {
	if c == nil {
		return
	}
	c.TraversalNodes.Observe(float64(nodes))
}

func (c *Collector) CompatibilityVerdict(verdict string) {
	if c == nil {
		return
	}
	c.CompatibilityVerdicts.WithLabelValues(verdict).Inc()
}

func (c *Collector) CorruptRecord(component string) {
	if c == nil {
		return
	}
	c.CorruptRecords.WithLabelValues(component).Inc()
}

func (c *Collector) SetBreakerOpen(space string, open bool) {
	if c == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	c.BreakerState.WithLabelValues(space).Set(v)
}
