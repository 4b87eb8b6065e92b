// Package metrics exposes the server core's prometheus instrumentation:
// cache hit/miss counters, pipeline phase latency, and connection counts.
// Grounded on middleware.go's Metrics (request duration histogram +
// counter + active gauge), re-scoped from HTTP-request labels to the
// cache/pipeline concerns this core actually owns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/histogram/gauge the core publishes.
type Metrics struct {
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	PhaseDuration  *prometheus.HistogramVec
	ActiveConns    prometheus.Gauge
	ResponsesTotal *prometheus.CounterVec
}

// New constructs and registers the metric set against reg. Passing a fresh
// *prometheus.Registry per server instance (rather than the global
// DefaultRegisterer) keeps repeated construction in tests side-effect free.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvarn_cache_hits_total",
			Help: "Cache lookups that returned a value.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvarn_cache_misses_total",
			Help: "Cache lookups that found nothing.",
		}, []string{"cache"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvarn_cache_evictions_total",
			Help: "Entries evicted to satisfy a cache's count ceiling.",
		}, []string{"cache"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvarn_pipeline_phase_duration_seconds",
			Help:    "Wall time spent in a single pipeline phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		ActiveConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvarn_active_connections",
			Help: "Currently open accepted connections.",
		}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvarn_responses_total",
			Help: "Responses written, labeled by status class.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.CacheHits, m.CacheMisses, m.CacheEvictions, m.PhaseDuration, m.ActiveConns, m.ResponsesTotal)
	return m
}

// ObservePhase records how long a named pipeline phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
