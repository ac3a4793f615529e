package brokerproto

import (
	"testing"
	"time"

	"github.com/opsentra/opsentra/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	tests := []struct {
		name    string
		service string
		ip      string
		host    string
		want    string
	}{
		{"ip present", "checkout", "10.0.0.5", "host-1", "logs.checkout.10.0.0.5"},
		{"ip empty falls back to host", "checkout", "", "host-1", "logs.checkout.host-1"},
		{"service with dots sanitized", "svc.name", "1.2.3.4", "", "logs.svc_name.1.2.3.4"},
		{"empty service becomes unknown", "", "1.2.3.4", "", "logs.unknown.1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoutingKey(tt.service, tt.ip, tt.host)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnrichmentRoutingKey(t *testing.T) {
	assert.Equal(t, "enrichment.abc-123", EnrichmentRoutingKey("abc-123"))
}

func TestServiceFromSubject(t *testing.T) {
	svc, ok := ServiceFromSubject("logs.checkout.10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, "checkout", svc)

	_, ok = ServiceFromSubject("enrichment.abc-123")
	assert.False(t, ok)

	_, ok = ServiceFromSubject("not-a-subject")
	assert.False(t, ok)
}

func TestRecordEnvelopeRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 2, 10, 30, 0, 0, time.UTC)
	in := record.Record{
		Timestamp:  now,
		Level:      record.LevelError,
		Service:    "checkout",
		Host:       "host-1",
		IP:         "10.0.0.5",
		Source:     "/var/log/checkout.log",
		Message:    "payment failed",
		SourceType: record.SourceTypeContainer,
		Metadata:   map[string]string{"container_id": "abc123"},
	}

	env := FromRecord(in)
	out, err := env.ToRecord()
	require.NoError(t, err)

	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.Level, out.Level)
	assert.Equal(t, in.Service, out.Service)
	assert.Equal(t, in.Host, out.Host)
	assert.Equal(t, in.IP, out.IP)
	assert.Equal(t, in.Message, out.Message)
	assert.Equal(t, in.SourceType, out.SourceType)
	assert.Equal(t, in.Metadata, out.Metadata)
}

func TestLogEnvelopeNormalizesForeignLevel(t *testing.T) {
	env := LogEnvelope{
		Timestamp: time.Now().UTC().Format(timeLayout),
		Level:     "CRITICAL",
		Service:   "svc",
		Host:      "host",
		Message:   "x",
	}
	out, err := env.ToRecord()
	require.NoError(t, err)
	assert.Equal(t, record.LevelError, out.Level)
}

func TestLogEnvelopeRejectsBadTimestamp(t *testing.T) {
	env := LogEnvelope{Timestamp: "not-a-time"}
	_, err := env.ToRecord()
	assert.Error(t, err)
}

func TestEnrichmentEnvelopeRoundTrip(t *testing.T) {
	in := record.Enrichment{
		RecordID:    "rec-1",
		Analysis:    "likely a transient network blip",
		Suggestions: []string{"retry with backoff", "check upstream health"},
		Confidence:  0.82,
	}
	env := FromEnrichment(in)
	out := env.ToEnrichment()
	assert.Equal(t, in, out)
}
