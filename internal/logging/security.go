package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// ConnectionEvent represents a subscriber-connection-relevant event for
// audit logging (SSE subscriber lifecycle, broker reconnects).
type ConnectionEvent struct {
	// Event is the type of event (e.g., "subscriber_connected", "subscriber_disconnected").
	Event string
	// SubscriberID is the subscriber's identifier.
	SubscriberID string
	// ServiceFilter is the subscriber's optional service filter, if any.
	ServiceFilter string
	// IPAddress is the client's IP address.
	IPAddress string
	// UserAgent is the client's user agent (truncated).
	UserAgent string
	// Success indicates if the operation was successful.
	Success bool
	// Error is the error message if the operation failed.
	Error string
	// Details contains additional sanitized details.
	Details map[string]string
}

// SecurityLogger provides sanitized logging for connection-lifecycle and
// credential-adjacent events. It automatically masks sensitive values
// (broker credentials embedded in URLs, object store secrets) before
// logging.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a new security logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: With().Str("component", "connection").Logger(),
	}
}

// NewSecurityLoggerWithLogger creates a security logger with a custom zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With().Str("component", "connection").Logger(),
	}
}

// LogEvent logs a connection event with automatic sanitization.
func (l *SecurityLogger) LogEvent(event *ConnectionEvent) {
	e := l.logger.Info().
		Str("event", event.Event)

	if event.Success {
		e = e.Str("status", "success")
	} else {
		e = e.Str("status", "failed")
	}

	if event.SubscriberID != "" {
		e = e.Str("subscriber_id", SanitizeSessionID(event.SubscriberID))
	}

	if event.ServiceFilter != "" {
		e = e.Str("service_filter", event.ServiceFilter)
	}

	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}

	if event.UserAgent != "" {
		e = e.Str("user_agent", truncateString(event.UserAgent, 100))
	}

	if event.Error != "" && !event.Success {
		e = e.Str("error", SanitizeError(event.Error))
	}

	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}

	e.Msg("")
}

// Debug logs a debug-level message.
func (l *SecurityLogger) Debug(msg string, fields ...interface{}) {
	e := l.logger.Debug()
	e = addFieldPairs(e, fields)
	e.Msg(msg)
}

// Info logs an info-level message.
func (l *SecurityLogger) Info(msg string, fields ...interface{}) {
	e := l.logger.Info()
	e = addFieldPairs(e, fields)
	e.Msg(msg)
}

// Warn logs a warning-level message.
func (l *SecurityLogger) Warn(msg string, fields ...interface{}) {
	e := l.logger.Warn()
	e = addFieldPairs(e, fields)
	e.Msg(msg)
}

// Error logs an error-level message.
func (l *SecurityLogger) Error(msg string, fields ...interface{}) {
	e := l.logger.Error()
	e = addFieldPairs(e, fields)
	e.Msg(msg)
}

// addFieldPairs adds key-value pairs to a zerolog event.
func addFieldPairs(e *zerolog.Event, fields []interface{}) *zerolog.Event {
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			e = e.Interface(key, fields[i+1])
		}
	}
	return e
}

// ============================================================
// Pre-defined Connection Events
// ============================================================

// LogSubscriberConnected logs a new SSE subscriber registration.
func (l *SecurityLogger) LogSubscriberConnected(subscriberID, serviceFilter, ip, userAgent string) {
	l.LogEvent(&ConnectionEvent{
		Event:         "subscriber_connected",
		SubscriberID:  subscriberID,
		ServiceFilter: serviceFilter,
		IPAddress:     ip,
		UserAgent:     userAgent,
		Success:       true,
	})
}

// LogSubscriberDisconnected logs a subscriber removal from the hub.
func (l *SecurityLogger) LogSubscriberDisconnected(subscriberID, reason string) {
	l.LogEvent(&ConnectionEvent{
		Event:        "subscriber_disconnected",
		SubscriberID: subscriberID,
		Success:      true,
		Details: map[string]string{
			"reason": reason,
		},
	})
}

// LogBrokerReconnectFailure logs a failed broker reconnect attempt.
func (l *SecurityLogger) LogBrokerReconnectFailure(brokerURL, reason string) {
	l.LogEvent(&ConnectionEvent{
		Event:   "broker_reconnect_failed",
		Success: false,
		Error:   reason,
		Details: map[string]string{
			"broker_url": brokerURL,
		},
	})
}

// LogArchiveCredentialError logs an object-store authentication failure
// without leaking the configured credentials.
func (l *SecurityLogger) LogArchiveCredentialError(bucket, reason string) {
	l.LogEvent(&ConnectionEvent{
		Event:   "archive_credential_error",
		Success: false,
		Error:   reason,
		Details: map[string]string{
			"bucket": bucket,
		},
	})
}

// ============================================================
// Sanitization Functions
// ============================================================

// SanitizeToken masks a token, showing only first and last 4 characters.
// Tokens of 12 characters or fewer become "***".
// Example: "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9" -> "eyJh...VCJ9"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeSessionID masks an identifier such as a subscriber ID.
// IDs of 12 characters or fewer become "***".
// Example: "sub-id-12345678" -> "sub-...5678"
func SanitizeSessionID(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	if len(sessionID) <= 12 {
		return "***"
	}
	return sessionID[:4] + "..." + sessionID[len(sessionID)-4:]
}

// SanitizeError removes potentially sensitive information from error messages.
func SanitizeError(err string) string {
	sensitivePatterns := []string{
		"password",
		"secret",
		"token",
		"key",
		"bearer",
		"authorization",
		"credential",
	}

	lowerErr := strings.ToLower(err)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowerErr, pattern) {
			return "credential error"
		}
	}

	return truncateString(err, 200)
}

// SanitizeValue sanitizes a value based on its key name.
func SanitizeValue(key, value string) string {
	lowerKey := strings.ToLower(key)

	sensitiveKeys := map[string]bool{
		"token":                    true,
		"access_token":             true,
		"secret":                   true,
		"password":                 true,
		"api_key":                  true,
		"apikey":                   true,
		"authorization":            true,
		"bearer":                   true,
		"object_store_credentials": true,
		"broker_url":               true,
	}

	if sensitiveKeys[lowerKey] {
		return SanitizeToken(value)
	}

	return value
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
