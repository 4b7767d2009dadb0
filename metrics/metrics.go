// Package metrics exposes Prometheus counters and histograms for the
// connection engine: package-level CounterVec/HistogramVec variables, a
// once-guarded Init, and a Handler for mounting on an HTTP mux.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectsTotal counts successful Connect calls.
	ConnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_connects_total",
			Help: "Total number of successful connections established",
		},
	)

	// ConnectErrorsTotal counts failed Connect calls by error kind.
	ConnectErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgclient_connect_errors_total",
			Help: "Total number of connection attempts that failed",
		},
		[]string{"kind"},
	)

	// AuthFailuresTotal counts authentication failures by method.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgclient_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"method"},
	)

	// QueriesTotal counts prepared-statement executions by kind (execute, query).
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgclient_queries_total",
			Help: "Total number of statement executions",
		},
		[]string{"kind"},
	)

	// QueryLatency tracks statement execution latency by kind.
	QueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgclient_query_latency_seconds",
			Help:    "Statement execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// NotificationsReceivedTotal counts NotificationResponse frames absorbed
	// by the message multiplexer.
	NotificationsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_notifications_received_total",
			Help: "Total number of NotificationResponse frames received",
		},
	)

	// NotificationsDroppedTotal counts notifications discarded because the
	// per-connection queue was full.
	NotificationsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_notifications_dropped_total",
			Help: "Total number of notifications dropped due to a full queue",
		},
	)

	// StatementsPreparedTotal counts successful Prepare calls.
	StatementsPreparedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_statements_prepared_total",
			Help: "Total number of statements prepared",
		},
	)

	// PortalsOpenedTotal counts portals opened by the result stream.
	PortalsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_portals_opened_total",
			Help: "Total number of portals opened",
		},
	)

	once sync.Once
)

// Init registers every metric with the default Prometheus registry. Safe to
// call more than once; only the first call has an effect.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(ConnectsTotal)
		prometheus.MustRegister(ConnectErrorsTotal)
		prometheus.MustRegister(AuthFailuresTotal)
		prometheus.MustRegister(QueriesTotal)
		prometheus.MustRegister(QueryLatency)
		prometheus.MustRegister(NotificationsReceivedTotal)
		prometheus.MustRegister(NotificationsDroppedTotal)
		prometheus.MustRegister(StatementsPreparedTotal)
		prometheus.MustRegister(PortalsOpenedTotal)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
