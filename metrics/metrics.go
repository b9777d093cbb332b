package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LogFilesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logguard_log_files_uploaded_total",
			Help: "Total number of log files uploaded",
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logguard_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"method"},
	)

	AnalysesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logguard_analyses_dispatched_total",
			Help: "Total number of analysis runs dispatched",
		},
		[]string{"strategy"},
	)

	AnalysesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logguard_analyses_rejected_total",
			Help: "Total number of analysis dispatches rejected",
		},
		[]string{"strategy", "reason"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logguard_analysis_duration_seconds",
			Help:    "Time taken to complete an analysis run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	BulkUpdatesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logguard_bulk_updates_applied_total",
			Help: "Total number of anomalies changed through bulk updates",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logguard_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logguard_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logguard_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"backend", "operation"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logguard_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"result"},
	)

	EntryArchiveInsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logguard_entry_archive_insert_failures_total",
			Help: "Total number of raw entry archive insertion failures",
		},
	)
)
