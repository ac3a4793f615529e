package persist

import (
	"database/sql"

	"github.com/goccy/go-json"

	"github.com/opsentra/opsentra/internal/persistence"
	"github.com/opsentra/opsentra/internal/record"
)

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func marshalStrings(s []string) (sql.NullString, error) {
	if len(s) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalStrings(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// scanner abstracts *sql.Rows so scanStoredRecord can be exercised in tests
// with any type exposing the same Scan signature.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStoredRecord(row scanner) (persistence.StoredRecord, error) {
	var (
		sr                persistence.StoredRecord
		level, sourceType string
		metadataJSON      sql.NullString
		syncedAt          sql.NullTime
		enrichAnalysis    sql.NullString
		enrichSuggestions sql.NullString
		enrichConfidence  sql.NullFloat64
		enrichedAt        sql.NullTime
	)

	if err := row.Scan(
		&sr.ID, &sr.Timestamp, &level, &sr.Service, &sr.Host, &sr.IP, &sr.Source, &sr.Message, &sourceType,
		&metadataJSON, &sr.Synced, &syncedAt, &enrichAnalysis, &enrichSuggestions, &enrichConfidence, &enrichedAt,
	); err != nil {
		return persistence.StoredRecord{}, err
	}

	sr.Level = record.Normalize(level)
	sr.SourceType = record.SourceType(sourceType)

	metadata, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		return persistence.StoredRecord{}, err
	}
	sr.Metadata = metadata

	if syncedAt.Valid {
		t := syncedAt.Time
		sr.SyncedAt = &t
	}

	if enrichAnalysis.Valid {
		suggestions, err := unmarshalStrings(enrichSuggestions)
		if err != nil {
			return persistence.StoredRecord{}, err
		}
		sr.Enrichment = &record.Enrichment{
			RecordID:    sr.ID,
			Analysis:    enrichAnalysis.String,
			Suggestions: suggestions,
			Confidence:  enrichConfidence.Float64,
			EnrichedAt:  enrichedAt.Time,
		}
	}

	return sr, nil
}
