package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for both the Shipper and the Aggregator.
// Registered on the default registry at package init via promauto, but
// never exposed over an HTTP /metrics route — see internal/aggregator/api.
var (
	// Shipper: Source Discoverer / File Tailer
	SourcesDiscovered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opsentra_sources_discovered",
			Help: "Current number of log sources known to the tailer",
		},
		[]string{"source_type"}, // file, container, pod, ci
	)

	TailerAbandonedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_tailer_abandoned_total",
			Help: "Total number of sources abandoned after exceeding the retry window",
		},
		[]string{"source_type"},
	)

	TailerBytesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_tailer_bytes_read_total",
			Help: "Total number of bytes read from tailed sources",
		},
		[]string{"source_type"},
	)

	TailerTruncationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_tailer_truncations_total",
			Help: "Total number of truncation/rotation events detected while tailing",
		},
		[]string{"source_type"},
	)

	// Shipper: Record Builder
	RecordsBuiltTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_records_built_total",
			Help: "Total number of log records built from raw lines",
		},
		[]string{"source_type", "level"},
	)

	LevelExtractionFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsentra_level_extraction_fallback_total",
			Help: "Total number of records where no level rule matched and the default level was used",
		},
	)

	// Shipper: Broker Publisher
	PublishQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsentra_publish_queue_depth",
			Help: "Current number of records buffered in the publisher's outbound queue",
		},
	)

	PublishQueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsentra_publish_queue_dropped_total",
			Help: "Total number of records dropped because the outbound queue was full",
		},
	)

	PublishAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_publish_attempts_total",
			Help: "Total number of broker publish attempts",
		},
		[]string{"result"}, // success, retry, failure
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opsentra_publish_duration_seconds",
			Help:    "Duration of broker publish calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconnectStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_reconnect_state_transitions_total",
			Help: "Total number of broker connection state machine transitions",
		},
		[]string{"from_state", "to_state"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opsentra_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Aggregator: Broker Consumer
	ConsumeAckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_consume_ack_total",
			Help: "Total number of consumed messages acknowledged",
		},
		[]string{"stream"},
	)

	ConsumeDeadLetterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_consume_dead_letter_total",
			Help: "Total number of undecodable messages routed to the dead letter handler",
		},
		[]string{"stream"},
	)

	// Aggregator: Persistence Writer
	PersistWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opsentra_persist_write_duration_seconds",
			Help:    "Duration of persistence writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PersistWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_persist_write_errors_total",
			Help: "Total number of persistence write errors",
		},
		[]string{"error_kind"},
	)

	PersistRetentionPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsentra_persist_retention_purged_total",
			Help: "Total number of records purged by the retention janitor",
		},
	)

	// Aggregator: Subscriber Hub
	SubscriberCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsentra_subscriber_count",
			Help: "Current number of connected SSE subscribers",
		},
	)

	SubscriberDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_subscriber_disconnects_total",
			Help: "Total number of subscriber disconnects",
		},
		[]string{"reason"}, // client_closed, backpressure_overflow, shutdown
	)

	SubscriberBroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opsentra_subscriber_broadcast_duration_seconds",
			Help:    "Duration of a single fan-out broadcast across all subscribers",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Aggregator: Archival Scheduler
	ArchiveRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_archive_runs_total",
			Help: "Total number of archival scheduler runs",
		},
		[]string{"result"}, // success, failure, skipped_overlap
	)

	ArchiveBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opsentra_archive_batch_size",
			Help:    "Number of records in an archival upload batch",
			Buckets: []float64{10, 100, 1000, 5000, 10000, 25000},
		},
	)

	ArchiveUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opsentra_archive_upload_duration_seconds",
			Help:    "Duration of object-store archival uploads in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ArchiveLastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsentra_archive_last_success_timestamp",
			Help: "Unix timestamp of the last successful archival run",
		},
	)

	// Shared: HTTP surface
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsentra_http_requests_total",
			Help: "Total number of HTTP requests served by the aggregator",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsentra_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

// RecordPublishAttempt records the outcome of a single broker publish attempt.
func RecordPublishAttempt(result string, duration time.Duration) {
	PublishAttemptsTotal.WithLabelValues(result).Inc()
	PublishDuration.Observe(duration.Seconds())
}

// RecordQueueDrop records a record dropped from the publisher's bounded
// outbound queue because it was full.
func RecordQueueDrop() {
	PublishQueueDroppedTotal.Inc()
}

// RecordReconnectTransition records a Broker Publisher connection state change.
func RecordReconnectTransition(from, to string) {
	ReconnectStateTransitions.WithLabelValues(from, to).Inc()
}

// SetCircuitBreakerState records the current circuit breaker state (0/1/2) for name.
func SetCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordConsumeAck records a successful acknowledgment for a stream.
func RecordConsumeAck(stream string) {
	ConsumeAckTotal.WithLabelValues(stream).Inc()
}

// RecordDeadLetter records a message routed to the dead letter handler.
func RecordDeadLetter(stream string) {
	ConsumeDeadLetterTotal.WithLabelValues(stream).Inc()
}

// RecordPersistWrite records the duration of a persistence write and, on
// failure, classifies the error.
func RecordPersistWrite(duration time.Duration, errKind string) {
	PersistWriteDuration.Observe(duration.Seconds())
	if errKind != "" {
		PersistWriteErrors.WithLabelValues(errKind).Inc()
	}
}

// RecordSubscriberDisconnect records why a subscriber was removed from the hub.
func RecordSubscriberDisconnect(reason string) {
	SubscriberDisconnectsTotal.WithLabelValues(reason).Inc()
}

// RecordArchiveRun records the outcome and batch size of a single archival run.
func RecordArchiveRun(result string, batchSize int, uploadDuration time.Duration) {
	ArchiveRunsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		ArchiveBatchSize.Observe(float64(batchSize))
		ArchiveUploadDuration.Observe(uploadDuration.Seconds())
	}
}

// RecordHTTPRequest records one served HTTP request on the aggregator's surface.
func RecordHTTPRequest(method, route, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
