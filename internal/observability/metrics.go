package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tide_currents"

// Metrics holds the Prometheus counters, histograms, and gauges for cache
// builds and current synthesis.
type Metrics struct {
	// Build-request pipeline metrics.
	RequestsConsumed prometheus.Counter
	ResultsProduced  prometheus.Counter
	RequestErrors    prometheus.Counter
	PipelineRunning  prometheus.Gauge

	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Cache build metrics.
	CacheBuilds        *prometheus.CounterVec // labels: outcome={built,skipped,failed}
	CacheBuildDuration prometheus.Histogram
	CacheRowsWritten   prometheus.Counter
	CachePublishes     *prometheus.CounterVec // labels: outcome={success,error}

	// Query metrics.
	ChunkCache        *prometheus.CounterVec   // labels: result={hit,miss}
	SynthesisRequests *prometheus.CounterVec   // labels: op={vectors,minmax,featureinfo}, outcome={success,error,unsupported}
	SynthesisDuration *prometheus.HistogramVec // labels: op
	SubsetSize        prometheus.Histogram
	QueryRateLimited  prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_requests_consumed_total",
			Help:      "Total build requests read from the request topic.",
		}),
		ResultsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_results_produced_total",
			Help:      "Total build results written to the result topic.",
		}),
		RequestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_request_errors_total",
			Help:      "Total build requests that could not be parsed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the build pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of build requests per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete request batch, builds included.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		CacheBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_builds_total",
			Help:      "Cache build attempts by outcome.",
		}, []string{"outcome"}),
		CacheBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_build_duration_seconds",
			Help:      "Duration of cache builds that wrote a file.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}),
		CacheRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rows_written_total",
			Help:      "Constituent rows written to harmonic cache variables.",
		}),
		CachePublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_publishes_total",
			Help:      "Uploads of built caches to object storage by outcome.",
		}, []string{"outcome"}),
		ChunkCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_cache_total",
			Help:      "Decoded chunk cache lookups by result.",
		}, []string{"result"}),
		SynthesisRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Query requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		SynthesisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Query duration by operation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
		SubsetSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subset_size",
			Help:      "Mesh locations selected per query.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		QueryRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_rate_limited_total",
			Help:      "Query requests rejected by the rate limiter.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RequestsConsumed,
		m.ResultsProduced,
		m.RequestErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.CacheBuilds,
		m.CacheBuildDuration,
		m.CacheRowsWritten,
		m.CachePublishes,
		m.ChunkCache,
		m.SynthesisRequests,
		m.SynthesisDuration,
		m.SubsetSize,
		m.QueryRateLimited,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

// ChunkCacheHit implements cachefile.ChunkObserver.
func (m *Metrics) ChunkCacheHit() { m.ChunkCache.WithLabelValues("hit").Inc() }

// ChunkCacheMiss implements cachefile.ChunkObserver.
func (m *Metrics) ChunkCacheMiss() { m.ChunkCache.WithLabelValues("miss").Inc() }
