package search

import (
	"fmt"
	"time"

	"github.com/adalundhe/recall/core/memory"
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// Query Metrics
// =============================================================================

// BackendMetrics describes one backend call within a query.
type BackendMetrics struct {
	Backend memory.Backend `json:"backend"`
	K       int            `json:"k"`
	Latency time.Duration  `json:"latency"`
	// Hits is what the backend returned; Contributed is how many of those
	// survived into the final list.
	Hits        int    `json:"hits"`
	Contributed int    `json:"contributed"`
	Error       string `json:"error,omitempty"`
}

func (b BackendMetrics) Failed() bool {
	return b.Error != ""
}

// QueryMetrics contains timing and status information for a search.
type QueryMetrics struct {
	Method       Method           `json:"method"`
	Backends     []BackendMetrics `json:"backends"`
	FallbackUsed bool             `json:"fallback_used"`
	// Fallback is the text re-run of a failed vector budget.
	Fallback     *BackendMetrics `json:"fallback,omitempty"`
	CacheHit     bool            `json:"cache_hit"`
	Results      int             `json:"results"`
	TotalLatency time.Duration   `json:"total_latency"`
}

// Backend returns the metrics for b, if it was called.
func (m *QueryMetrics) Backend(b memory.Backend) (BackendMetrics, bool) {
	for _, bm := range m.Backends {
		if bm.Backend == b {
			return bm, true
		}
	}
	return BackendMetrics{}, false
}

// Degraded reports whether any backend failed.
func (m *QueryMetrics) Degraded() bool {
	for _, bm := range m.Backends {
		if bm.Failed() {
			return true
		}
	}
	return false
}

// =============================================================================
// Prometheus Collector
// =============================================================================

// Metrics aggregates QueryMetrics and ingestion failures into Prometheus
// collectors on a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	searches          *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	backendDuration   *prometheus.HistogramVec
	backendErrors     *prometheus.CounterVec
	backendHits       *prometheus.CounterVec
	fallbacks         prometheus.Counter
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	ingestOperations  *prometheus.CounterVec
	ingestionFailures *prometheus.CounterVec
	storeItems        *prometheus.GaugeVec
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Total number of searches by resolved method",
			},
			[]string{"method"},
		),
		searchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "End-to-end search latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_duration_seconds",
				Help:      "Per-backend search latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		backendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_errors_total",
				Help:      "Total number of failed backend calls during search",
			},
			[]string{"backend"},
		),
		backendHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_hits_total",
				Help:      "Total number of hits returned per backend",
			},
			[]string{"backend"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vector_fallbacks_total",
				Help:      "Total number of vector budgets re-routed to text",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of result cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of result cache misses",
			},
		),
		ingestOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_operations_total",
				Help:      "Total number of record mutations",
			},
			[]string{"operation"},
		),
		ingestionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_failures_total",
				Help:      "Total number of best-effort ingestion side effects that failed",
			},
			[]string{"backend", "operation"},
		),
		storeItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_items",
				Help:      "Number of items held by each store",
			},
			[]string{"store"},
		),
	}

	m.registry.MustRegister(
		m.searches,
		m.searchDuration,
		m.backendDuration,
		m.backendErrors,
		m.backendHits,
		m.fallbacks,
		m.cacheHits,
		m.cacheMisses,
		m.ingestOperations,
		m.ingestionFailures,
		m.storeItems,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveQuery folds one search into the collectors.
func (m *Metrics) ObserveQuery(q *QueryMetrics) {
	if m == nil || q == nil {
		return
	}
	method := q.Method.String()
	m.searches.WithLabelValues(method).Inc()
	m.searchDuration.WithLabelValues(method).Observe(q.TotalLatency.Seconds())

	if q.CacheHit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
	if q.FallbackUsed {
		m.fallbacks.Inc()
	}
	for _, b := range q.Backends {
		label := b.Backend.String()
		m.backendDuration.WithLabelValues(label).Observe(b.Latency.Seconds())
		m.backendHits.WithLabelValues(label).Add(float64(b.Hits))
		if b.Failed() {
			m.backendErrors.WithLabelValues(label).Inc()
		}
	}
}

// IngestOperation counts a successful create, update or delete.
func (m *Metrics) IngestOperation(op string) {
	if m == nil {
		return
	}
	m.ingestOperations.WithLabelValues(op).Inc()
}

// IngestFailure counts a best-effort side effect that failed.
func (m *Metrics) IngestFailure(backend, op string) {
	if m == nil {
		return
	}
	m.ingestionFailures.WithLabelValues(backend, op).Inc()
}

// SetStoreSize records a point-in-time item count, e.g. "records" or
// "entities".
func (m *Metrics) SetStoreSize(store string, n int) {
	if m == nil {
		return
	}
	m.storeItems.WithLabelValues(store).Set(float64(n))
}

// WriteTextfile writes all collectors in the Prometheus text format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
