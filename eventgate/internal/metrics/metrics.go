package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Broker consumption metrics
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_messages_received_total",
			Help: "Total number of broker deliveries received",
		},
		[]string{"topic"},
	)

	MessagesSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_messages_settled_total",
			Help: "Total number of deliveries settled, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventgate_messages_in_flight",
			Help: "Deliveries currently being processed",
		},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventgate_worker_pool_size",
			Help: "Maximum number of concurrently processed deliveries",
		},
	)

	// Idempotency protocol metrics
	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_admissions_total",
			Help: "Admission attempts by result (new, retry, locked, in_progress, processed, cached, error)",
		},
		[]string{"result"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventgate_handler_duration_seconds",
			Help:    "Duration of business handler execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type", "status"},
	)

	FinalizationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_finalization_errors_total",
			Help: "Total number of failures recording a final event status",
		},
	)

	StaleFinalizations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_stale_finalizations_total",
			Help: "Finalizations skipped because a later attempt had taken over the event",
		},
	)

	CacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_processed_cache_errors_total",
			Help: "Total number of processed-cache errors (ignored, database is authoritative)",
		},
	)

	// Maintenance metrics
	Reclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_reclaimed_events_total",
			Help: "Total number of stale PROCESSING events moved to FAILED",
		},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_dead_lettered_total",
			Help: "Total number of deliveries written to the dead-letter stream",
		},
		[]string{"reason"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_emails_sent_total",
			Help: "Total number of emails handed to the delivery backend",
		},
		[]string{"backend", "status"},
	)
)
