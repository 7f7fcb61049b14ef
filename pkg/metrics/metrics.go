package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync engine metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aldersync_operations_total",
			Help: "Total number of sync operations by type and terminal status",
		},
		[]string{"operation", "status"},
	)

	ActiveTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aldersync_active_transactions",
			Help: "Number of transactions currently holding a staging area",
		},
	)

	LockDenialsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aldersync_lock_denials_total",
			Help: "Total number of transaction begins denied because the lock was held",
		},
	)

	LockExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aldersync_lock_expirations_total",
			Help: "Total number of locks cleared by timeout",
		},
	)

	BytesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aldersync_bytes_uploaded_total",
			Help: "Total bytes streamed into staging areas",
		},
	)

	BytesDownloadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aldersync_bytes_downloaded_total",
			Help: "Total bytes streamed out of the revision store",
		},
	)

	RevisionsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aldersync_revisions_pruned_total",
			Help: "Total revisions removed by retention",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aldersync_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aldersync_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Register registers all metrics with the default Prometheus registry
func Register() {
	prometheus.MustRegister(
		OperationsTotal,
		ActiveTransactions,
		LockDenialsTotal,
		LockExpirationsTotal,
		BytesUploadedTotal,
		BytesDownloadedTotal,
		RevisionsPrunedTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
