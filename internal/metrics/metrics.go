// Package metrics holds the Prometheus collectors for ingestion and queries.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agrirag"

type Metrics struct {
	RowsRead       *prometheus.CounterVec
	RowsSkipped    *prometheus.CounterVec
	UnitsIngested  *prometheus.CounterVec
	IngestFailures *prometheus.CounterVec

	Queries       prometheus.Counter
	QueryFailures *prometheus.CounterVec
	CacheHits     prometheus.Counter
	StageDuration *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RowsRead: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Data rows read from tabular sources.",
		}, []string{"format"}),
		RowsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Rows that produced no statements.",
		}, []string{"format"}),
		UnitsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_ingested_total",
			Help:      "Units appended to the index.",
		}, []string{"format"}),
		IngestFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Failed ingestion calls by error kind.",
		}, []string{"kind"}),
		Queries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Questions answered.",
		}),
		QueryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_failures_total",
			Help:      "Failed questions by stage.",
		}, []string{"stage"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_cache_hits_total",
			Help:      "Questions served from the answer cache.",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of ingest, retrieval and generation stages.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
	}
}

func (m *Metrics) ObserveIngest(format string, read, skipped, added int) {
	if m == nil {
		return
	}
	m.RowsRead.WithLabelValues(format).Add(float64(read))
	m.RowsSkipped.WithLabelValues(format).Add(float64(skipped))
	m.UnitsIngested.WithLabelValues(format).Add(float64(added))
}

func (m *Metrics) IngestFailed(kind string) {
	if m == nil {
		return
	}
	m.IngestFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) QueryStarted() {
	if m == nil {
		return
	}
	m.Queries.Inc()
}

func (m *Metrics) QueryFailed(stage string) {
	if m == nil {
		return
	}
	m.QueryFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// Since records the time elapsed from start under stage.
func (m *Metrics) Since(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
