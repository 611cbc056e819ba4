// Package metrics provides Prometheus metrics for the repair sweep.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sweeper.
type Metrics struct {
	// Range metrics
	RangesRepaired *prometheus.CounterVec
	RangesFailed   *prometheus.CounterVec
	RowsRepaired   *prometheus.CounterVec

	// Table metrics
	TablesRepaired *prometheus.CounterVec
	TablesFailed   *prometheus.CounterVec

	// Timing metrics
	RangeQueryDuration *prometheus.HistogramVec

	// Concurrency metrics
	InFlightQueries prometheus.Gauge
	ActiveTables    prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "cql_repairer"
	}

	m := &Metrics{
		RangesRepaired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ranges_repaired_total",
				Help:      "Total number of token ranges repaired successfully",
			},
			[]string{"keyspace", "table"},
		),
		RangesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ranges_failed_total",
				Help:      "Total number of token ranges whose repair read failed",
			},
			[]string{"keyspace", "table"},
		),
		RowsRepaired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_repaired_total",
				Help:      "Total number of rows read at consistency ALL",
			},
			[]string{"keyspace", "table"},
		),
		TablesRepaired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tables_repaired_total",
				Help:      "Total number of tables swept to completion",
			},
			[]string{"keyspace"},
		),
		TablesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tables_failed_total",
				Help:      "Total number of tables that failed with a fatal error",
			},
			[]string{"keyspace"},
		),
		RangeQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "range_query_duration_seconds",
				Help:      "Latency of individual range repair reads",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
			},
			[]string{"keyspace", "table"},
		),
		InFlightQueries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_queries",
				Help:      "Number of range queries currently in flight",
			},
		),
		ActiveTables: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_tables",
				Help:      "Number of table drivers currently running",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncRangeRepaired records one successfully repaired range and its rows.
func (m *Metrics) IncRangeRepaired(keyspace, table string, rows uint64) {
	m.RangesRepaired.WithLabelValues(keyspace, table).Inc()
	m.RowsRepaired.WithLabelValues(keyspace, table).Add(float64(rows))
}

// IncRangeFailed records one failed range.
func (m *Metrics) IncRangeFailed(keyspace, table string) {
	m.RangesFailed.WithLabelValues(keyspace, table).Inc()
}

// IncTableRepaired records one table swept to completion.
func (m *Metrics) IncTableRepaired(keyspace string) {
	m.TablesRepaired.WithLabelValues(keyspace).Inc()
}

// IncTableFailed records one table aborted by a fatal error.
func (m *Metrics) IncTableFailed(keyspace string) {
	m.TablesFailed.WithLabelValues(keyspace).Inc()
}

// ObserveRangeQueryDuration records the latency of one range read.
func (m *Metrics) ObserveRangeQueryDuration(keyspace, table string, seconds float64) {
	m.RangeQueryDuration.WithLabelValues(keyspace, table).Observe(seconds)
}
