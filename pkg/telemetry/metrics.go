package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Metric cache ────────────────────────────────────────────────────────────

	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations, labelled by op (write, hit, miss).",
	}, []string{"op"})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries removed by the size-pressure eviction sweep.",
	})

	CacheExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "cache",
		Name:      "expired_total",
		Help:      "Entries removed because their TTL elapsed.",
	})

	CacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "resilience",
		Subsystem: "cache",
		Name:      "size_bytes",
		Help:      "Approximate bytes held by the cache.",
	})

	PerformanceAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "metrics",
		Name:      "alerts_total",
		Help:      "Threshold alerts raised by recorded samples, labelled by metric and level.",
	}, []string{"metric", "level"})

	// ─── Optimizer ───────────────────────────────────────────────────────────────

	OptimizerTasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "optimizer",
		Name:      "tasks_enqueued_total",
		Help:      "Optimization tasks accepted, labelled by kind and priority.",
	}, []string{"kind", "priority"})

	OptimizerTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "optimizer",
		Name:      "tasks_processed_total",
		Help:      "Optimization tasks finished, labelled by kind and terminal state.",
	}, []string{"kind", "state"})

	OptimizerTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "resilience",
		Subsystem: "optimizer",
		Name:      "tasks_inflight",
		Help:      "Optimization tasks currently holding a concurrency slot.",
	})

	OptimizerTaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "resilience",
		Subsystem: "optimizer",
		Name:      "task_duration_seconds",
		Help:      "Executor run time in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"kind"})

	OptimizerBytesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "optimizer",
		Name:      "bytes_saved_total",
		Help:      "Bytes removed by completed optimizations.",
	}, []string{"kind"})

	// ─── Recovery ────────────────────────────────────────────────────────────────

	ErrorsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "recovery",
		Name:      "errors_captured_total",
		Help:      "Runtime faults captured, labelled by kind and severity.",
	}, []string{"kind", "severity"})

	RecoveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "recovery",
		Name:      "attempts_total",
		Help:      "Strategy attempts, labelled by strategy and outcome (recovered, failed).",
	}, []string{"strategy", "outcome"})

	RecoveryUnrecoverable = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "recovery",
		Name:      "unrecoverable_total",
		Help:      "Faults for which no strategy succeeded.",
	})

	RecoverySkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "recovery",
		Name:      "skipped_inflight_total",
		Help:      "Captures whose recovery was skipped because another recovery was in flight.",
	})

	// ─── Events ──────────────────────────────────────────────────────────────────

	EventsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "events",
		Name:      "forwarded_total",
		Help:      "Events forwarded to the external sink, labelled by type and status.",
	}, []string{"type", "status"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because the forwarder buffer was full.",
	})

	// ─── Dashboard ───────────────────────────────────────────────────────────────

	ErrorReportsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "dashboard",
		Name:      "error_reports_rate_limited_total",
		Help:      "Error reports rejected by the intake rate limiter.",
	})

	IngestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resilience",
		Subsystem: "dashboard",
		Name:      "ingest_messages_total",
		Help:      "Fault reports consumed from Kafka, labelled by status (captured, malformed).",
	}, []string{"status"})
)
