package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// EventLogger provides specialized logging for broker publish/consume paths.
// It is used by the Broker Publisher, Broker Consumer, and Archival
// Scheduler, which all move records through NATS/Watermill.
type EventLogger struct {
	logger zerolog.Logger
}

// NewEventLogger creates a logger configured for broker event handling.
func NewEventLogger() *EventLogger {
	return &EventLogger{
		logger: With().Str("component", "broker").Logger(),
	}
}

// NewEventLoggerWithLogger creates an EventLogger with a custom logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value (copy-on-write semantics)
func NewEventLoggerWithLogger(logger zerolog.Logger) *EventLogger {
	return &EventLogger{
		logger: logger.With().Str("component", "broker").Logger(),
	}
}

// WithFields returns a new EventLogger with additional default fields.
func (e *EventLogger) WithFields(fields map[string]interface{}) *EventLogger {
	ctx := e.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &EventLogger{logger: ctx.Logger()}
}

// Debug logs a debug message.
func (e *EventLogger) Debug(msg string, fields ...interface{}) {
	event := e.logger.Debug()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Info logs an info message.
func (e *EventLogger) Info(msg string, fields ...interface{}) {
	event := e.logger.Info()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Warn logs a warning message.
func (e *EventLogger) Warn(msg string, fields ...interface{}) {
	event := e.logger.Warn()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Error logs an error message.
func (e *EventLogger) Error(msg string, fields ...interface{}) {
	event := e.logger.Error()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// InfoContext logs an info message with context.
func (e *EventLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := e.loggerWithContext(ctx)
	event := logger.Info()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// WarnContext logs a warning message with context.
func (e *EventLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := e.loggerWithContext(ctx)
	event := logger.Warn()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// ErrorContext logs an error message with context.
func (e *EventLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := e.loggerWithContext(ctx)
	event := logger.Error()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// loggerWithContext returns a logger with context fields added.
func (e *EventLogger) loggerWithContext(ctx context.Context) zerolog.Logger {
	logCtx := e.logger.With()

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}

	return logCtx.Logger()
}

// LogRecordPublished logs a successful publish of a log record to the broker.
func (e *EventLogger) LogRecordPublished(ctx context.Context, recordID, subject string) {
	e.InfoContext(ctx, "record published",
		"record_id", recordID,
		"subject", subject,
	)
}

// LogRecordPublishFailed logs a failed publish attempt.
func (e *EventLogger) LogRecordPublishFailed(ctx context.Context, recordID string, err error) {
	logger := e.loggerWithContext(ctx)
	logger.Error().
		Str("record_id", recordID).
		Err(err).
		Msg("record publish failed")
}

// LogRecordConsumed logs a successful consume+ack of a message.
func (e *EventLogger) LogRecordConsumed(ctx context.Context, recordID string, durationMs int64) {
	e.InfoContext(ctx, "record consumed",
		"record_id", recordID,
		"duration_ms", durationMs,
	)
}

// LogDeadLetter logs when a message is routed to the dead letter handler;
// deliverCount is the delivery on which the caller dropped it.
func (e *EventLogger) LogDeadLetter(ctx context.Context, recordID string, err error, deliverCount int) {
	logger := e.loggerWithContext(ctx)
	logger.Warn().
		Str("record_id", recordID).
		Err(err).
		Int("deliver_count", deliverCount).
		Msg("record routed to dead letter handler")
}

// LogBatchFlush logs batch flush operations (archival uploads, bulk writes).
func (e *EventLogger) LogBatchFlush(ctx context.Context, count int, durationMs int64) {
	e.InfoContext(ctx, "batch flush completed",
		"record_count", count,
		"duration_ms", durationMs,
	)
}

// LogSubscriptionStarted logs when a durable JetStream subscription is started.
func (e *EventLogger) LogSubscriptionStarted(subject, queue string) {
	e.Info("subscription started",
		"subject", subject,
		"queue", queue,
	)
}

// LogSubscriptionStopped logs when a subscription is stopped.
func (e *EventLogger) LogSubscriptionStopped(subject string) {
	e.Info("subscription stopped",
		"subject", subject,
	)
}

// LogReconnectTransition logs a Broker Publisher connection state change.
func (e *EventLogger) LogReconnectTransition(from, to string) {
	e.Info("broker connection state transition",
		"from_state", from,
		"to_state", to,
	)
}
