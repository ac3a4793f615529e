// Package brokerproto defines the wire envelopes and routing-key
// conventions shared by the Broker Publisher and the Broker Consumer.
// The broker itself is modeled as a topic-typed durable exchange; the
// only realized transport is NATS JetStream, whose subjects play the
// role of routing keys and whose stream/consumer bindings play the
// role of queue bindings.
package brokerproto

import (
	"fmt"
	"strings"

	"github.com/opsentra/opsentra/internal/record"
)

const (
	// RawLogsSubjectPrefix is the NATS subject prefix for raw log records
	// published by the Shipper. The Broker Consumer's "raw-logs" queue
	// binds to RawLogsSubjectPrefix + ".>".
	RawLogsSubjectPrefix = "logs"

	// EnrichedSubjectPrefix is the NATS subject prefix for enrichment
	// payloads produced by the external analysis consumer. The Broker
	// Consumer's "enriched" queue binds to EnrichedSubjectPrefix + ".>".
	EnrichedSubjectPrefix = "enrichment"

	// RawLogsStreamSubjects is the wildcard subject the raw-logs stream
	// is provisioned against.
	RawLogsStreamSubjects = RawLogsSubjectPrefix + ".>"

	// EnrichedStreamSubjects is the wildcard subject the enriched stream
	// is provisioned against.
	EnrichedStreamSubjects = EnrichedSubjectPrefix + ".>"
)

// RoutingKey builds the publish subject for a log record:
// "logs.<service>.<ip-or-host>". When ip is empty, host is used in its
// place so the subject is always fully qualified.
func RoutingKey(service, ip, host string) string {
	identifier := ip
	if identifier == "" {
		identifier = host
	}
	return fmt.Sprintf("%s.%s.%s", RawLogsSubjectPrefix, sanitizeToken(service), sanitizeIdentifier(identifier))
}

// sanitizeIdentifier cleans the trailing ip-or-host segment. Unlike
// sanitizeToken it keeps dots, since an IP address or host name is dotted
// by nature and sits last in the subject; wildcard characters and
// whitespace are still replaced.
func sanitizeIdentifier(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(">", "_", "*", "_", " ", "_").Replace(s)
}

// EnrichmentRoutingKey builds the publish subject for an enrichment
// payload: "enrichment.<recordID>".
func EnrichmentRoutingKey(recordID string) string {
	return fmt.Sprintf("%s.%s", EnrichedSubjectPrefix, sanitizeToken(recordID))
}

// sanitizeToken replaces subject-delimiter characters ('.', '>', '*',
// whitespace) so a service name or record ID can never fracture the
// routing key into unintended wildcard segments.
func sanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(".", "_", ">", "_", "*", "_", " ", "_")
	return replacer.Replace(s)
}

// ServiceFromSubject extracts the service segment from a raw-logs
// routing key ("logs.<service>.<identifier>"). It returns false if the
// subject does not have the expected shape.
func ServiceFromSubject(subject string) (string, bool) {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) != 3 || parts[0] != RawLogsSubjectPrefix {
		return "", false
	}
	return parts[1], true
}

// LogEnvelope is the wire format published to the raw-logs stream. It
// is a direct JSON projection of record.Record; kept as a distinct type
// so the wire shape can evolve independently of the in-process model.
type LogEnvelope struct {
	Timestamp  string            `json:"timestamp"`
	Level      string            `json:"level"`
	Service    string            `json:"service"`
	Host       string            `json:"host"`
	IP         string            `json:"ip"`
	Source     string            `json:"source"`
	Message    string            `json:"message"`
	SourceType string            `json:"sourceType"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// FromRecord projects a record.Record onto its wire envelope.
func FromRecord(r record.Record) LogEnvelope {
	return LogEnvelope{
		Timestamp:  r.Timestamp.UTC().Format(timeLayout),
		Level:      string(r.Level),
		Service:    r.Service,
		Host:       r.Host,
		IP:         r.IP,
		Source:     r.Source,
		Message:    r.Message,
		SourceType: string(r.SourceType),
		Metadata:   r.Metadata,
	}
}

// ToRecord reverses FromRecord, normalizing the level on the way in so
// a malformed or foreign publisher can never inject an invalid level.
func (e LogEnvelope) ToRecord() (record.Record, error) {
	ts, err := parseTime(e.Timestamp)
	if err != nil {
		return record.Record{}, fmt.Errorf("brokerproto: parse timestamp %q: %w", e.Timestamp, err)
	}
	return record.Record{
		Timestamp:  ts,
		Level:      record.Normalize(e.Level),
		Service:    e.Service,
		Host:       e.Host,
		IP:         e.IP,
		Source:     e.Source,
		Message:    e.Message,
		SourceType: record.SourceType(e.SourceType),
		Metadata:   e.Metadata,
	}, nil
}

// EnrichmentEnvelope is the wire format published to the enriched
// stream, matching spec's {identifier, analysis, suggestions, confidence}.
type EnrichmentEnvelope struct {
	Identifier  string   `json:"identifier"`
	Analysis    string   `json:"analysis"`
	Suggestions []string `json:"suggestions,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// FromEnrichment projects a record.Enrichment onto its wire envelope.
func FromEnrichment(e record.Enrichment) EnrichmentEnvelope {
	return EnrichmentEnvelope{
		Identifier:  e.RecordID,
		Analysis:    e.Analysis,
		Suggestions: e.Suggestions,
		Confidence:  e.Confidence,
	}
}

// ToEnrichment reverses FromEnrichment.
func (e EnrichmentEnvelope) ToEnrichment() record.Enrichment {
	return record.Enrichment{
		RecordID:    e.Identifier,
		Analysis:    e.Analysis,
		Suggestions: e.Suggestions,
		Confidence:  e.Confidence,
	}
}
