package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Query status label values
const (
	QueryStatusOK    = "ok"
	QueryStatusError = "error"
	QueryStatusSlow  = "slow"
)

// DatastoreMetrics contains Prometheus metrics for the preference store
type DatastoreMetrics struct {
	registry *prometheus.Registry

	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	slowQueries   *prometheus.CounterVec
}

// NewDatastoreMetrics creates and registers the preference store metrics
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_datastore_queries_total",
			Help: "Total number of SQL statements run by the preference store",
		},
		[]string{"db_type", "operation", "table", "status"}, // status: ok, error, slow
	)

	m.queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ans_datastore_query_duration_seconds",
			Help:    "Time taken by preference store SQL statements",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms/10, BucketFactor2, BucketCount15),
		},
		[]string{"db_type", "operation"},
	)

	m.slowQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_datastore_slow_queries_total",
			Help: "Total number of SQL statements slower than the slow query threshold",
		},
		[]string{"db_type", "operation", "table"},
	)
}

func (m *DatastoreMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.queriesTotal, m.queryDuration, m.slowQueries}
}

// Describe implements the Collector interface
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordQuery records one statement. A slow statement also counts in
// ans_datastore_slow_queries_total.
func (m *DatastoreMetrics) RecordQuery(dbType, operation, table, status string, duration time.Duration) {
	m.queriesTotal.WithLabelValues(dbType, operation, table, status).Inc()
	m.queryDuration.WithLabelValues(dbType, operation).Observe(duration.Seconds())
	if status == QueryStatusSlow {
		m.slowQueries.WithLabelValues(dbType, operation, table).Inc()
	}
}
