package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Transfer metrics
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_transfers_total",
			Help: "Total number of transfer attempts by outcome",
		},
		[]string{"outcome"}, // success or a failure kind
	)

	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_transfer_duration_seconds",
			Help:    "Time to execute a transfer",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"outcome"},
	)

	TransferAmount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payments_transfer_amount_minor_units",
			Help:    "Committed transfer amounts (in cents)",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
	)

	TransferConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_transfer_conflict_retries_total",
			Help: "Number of transfer attempts retried after a concurrent update conflict",
		},
	)

	// Custom buckets for better visualization of slow queries
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_db_query_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// Session metrics
	SessionsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_sessions_issued_total",
			Help: "Total number of session tokens issued",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_auth_failures_total",
			Help: "Rejected authentication attempts",
		},
		[]string{"reason"}, // missing_token, invalid_token, store_error
	)

	// Event metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_events_published_total",
			Help: "Transfer events published to NATS",
		},
		[]string{"subject", "status"},
	)
)
