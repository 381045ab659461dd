// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace is the namespace for all pipeline metrics.
const MetricsNamespace = "crawld"

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	// Scheduler
	JobsScheduledTotal prometheus.Counter
	JobsBlockedTotal   prometheus.Counter
	JobsRequeuedTotal  *prometheus.CounterVec
	FrontierSize       prometheus.Gauge

	// Fetcher
	FetchesTotal         *prometheus.CounterVec
	FetchDurationSeconds prometheus.Histogram
	FetchBytesTotal      prometheus.Counter
	DuplicatesTotal      prometheus.Counter

	// Link ingestion
	LinksDiscoveredTotal prometheus.Counter
	LinksDroppedTotal    *prometheus.CounterVec

	// Indexer
	DocumentsIndexedTotal prometheus.Counter

	// Ranker
	RankIterations      prometheus.Gauge
	RankDurationSeconds prometheus.Histogram

	// Bus
	DeadLettersTotal *prometheus.CounterVec
}

// New creates and registers all pipeline metrics. A nil registerer uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		JobsScheduledTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_scheduled_total",
			Help:      "Total number of jobs dispatched to the fetch topic",
		}),
		JobsBlockedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_blocked_total",
			Help:      "Total number of jobs blocked by robots rules",
		}),
		JobsRequeuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_requeued_total",
			Help:      "Total number of jobs requeued with backoff",
		}, []string{"reason"}),
		FrontierSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "scheduler",
			Name:      "frontier_size",
			Help:      "Current number of pending jobs in the frontier",
		}),
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fetcher",
			Name:      "fetches_total",
			Help:      "Total fetch attempts by outcome",
		}, []string{"outcome"}),
		FetchDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fetcher",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of page fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~3.4min
		}),
		FetchBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fetcher",
			Name:      "fetch_bytes_total",
			Help:      "Total bytes downloaded",
		}),
		DuplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fetcher",
			Name:      "duplicates_total",
			Help:      "Total near-duplicate documents detected",
		}),
		LinksDiscoveredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "ingestor",
			Name:      "links_discovered_total",
			Help:      "Total link discovery events that created crawl jobs",
		}),
		LinksDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "ingestor",
			Name:      "links_dropped_total",
			Help:      "Total link discovery events dropped",
		}, []string{"reason"}),
		DocumentsIndexedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "indexer",
			Name:      "documents_indexed_total",
			Help:      "Total documents written to the full-text store",
		}),
		RankIterations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "ranker",
			Name:      "iterations",
			Help:      "Iterations of the last PageRank run",
		}),
		RankDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "ranker",
			Name:      "duration_seconds",
			Help:      "Duration of PageRank runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
		}),
		DeadLettersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "bus",
			Name:      "dead_letters_total",
			Help:      "Total messages routed to the dead-letter stream",
		}, []string{"topic"}),
	}
}

// RecordFetch records one fetch attempt.
func (m *Metrics) RecordFetch(outcome string, durationSeconds float64, bytes int64) {
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDurationSeconds.Observe(durationSeconds)
	if bytes > 0 {
		m.FetchBytesTotal.Add(float64(bytes))
	}
}
