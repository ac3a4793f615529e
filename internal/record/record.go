// Package record defines the canonical LogRecord type shared by the
// Shipper and the Aggregator, and the small set of pure helpers
// (level normalization, source-type validation) that operate on it.
package record

import (
	"strings"
	"time"
)

// Level is a normalized log severity. The zero value is not a valid level;
// use Normalize to coerce arbitrary input into one of the defined constants.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Normalize lowercases and maps aliases ("warning" -> warn, "critical" ->
// error) onto the canonical Level set, defaulting to LevelInfo for anything
// unrecognized.
func Normalize(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error", "err", "critical":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// SourceType classifies where a record originated.
type SourceType string

const (
	SourceTypeSystem    SourceType = "system"
	SourceTypeContainer SourceType = "container"
	SourceTypePod       SourceType = "pod"
	SourceTypeCI        SourceType = "ci"
	SourceTypeCustom    SourceType = "custom"
)

// Record is the universal log unit moved from Shipper to Aggregator.
type Record struct {
	Timestamp  time.Time         `json:"timestamp"`
	Level      Level             `json:"level"`
	Service    string            `json:"service"`
	Host       string            `json:"host"`
	IP         string            `json:"ip"`
	Source     string            `json:"source"`
	Message    string            `json:"message"`
	SourceType SourceType        `json:"sourceType"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Valid reports whether r satisfies the record invariants: non-empty
// message, service, host, and a non-zero timestamp.
func (r *Record) Valid() bool {
	return r.Message != "" && r.Service != "" && r.Host != "" && !r.Timestamp.IsZero()
}

// Enrichment is the asynchronous secondary payload produced by the
// external analysis consumer and merged onto a persisted record by
// identifier.
type Enrichment struct {
	RecordID    string    `json:"identifier"`
	Analysis    string    `json:"analysis"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Confidence  float64   `json:"confidence"`
	EnrichedAt  time.Time `json:"enrichedAt"`
}
