package persist

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []interface{}
}

func (f *fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = f.values[i].(string)
		case *time.Time:
			*v = f.values[i].(time.Time)
		case *sql.NullString:
			*v = f.values[i].(sql.NullString)
		case *sql.NullTime:
			*v = f.values[i].(sql.NullTime)
		case *sql.NullFloat64:
			*v = f.values[i].(sql.NullFloat64)
		case *bool:
			*v = f.values[i].(bool)
		}
	}
	return nil
}

func TestScanStoredRecordWithoutEnrichment(t *testing.T) {
	now := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	row := &fakeRow{values: []interface{}{
		"rec-1", now, "error", "checkout", "host-1", "10.0.0.1", "/var/log/x.log", "boom", "container",
		sql.NullString{String: `{"a":"b"}`, Valid: true},
		false,
		sql.NullTime{},
		sql.NullString{},
		sql.NullString{},
		sql.NullFloat64{},
		sql.NullTime{},
	}}

	sr, err := scanStoredRecord(row)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", sr.ID)
	assert.Equal(t, "checkout", sr.Service)
	assert.Equal(t, map[string]string{"a": "b"}, sr.Metadata)
	assert.Nil(t, sr.Enrichment)
	assert.Nil(t, sr.SyncedAt)
}

func TestScanStoredRecordWithEnrichment(t *testing.T) {
	now := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	syncedAt := now.Add(time.Hour)
	enrichedAt := now.Add(30 * time.Minute)
	row := &fakeRow{values: []interface{}{
		"rec-2", now, "warn", "checkout", "host-1", "10.0.0.1", "/var/log/x.log", "slow response", "system",
		sql.NullString{},
		true,
		sql.NullTime{Time: syncedAt, Valid: true},
		sql.NullString{String: "likely transient", Valid: true},
		sql.NullString{String: `["retry"]`, Valid: true},
		sql.NullFloat64{Float64: 0.75, Valid: true},
		sql.NullTime{Time: enrichedAt, Valid: true},
	}}

	sr, err := scanStoredRecord(row)
	require.NoError(t, err)
	require.NotNil(t, sr.Enrichment)
	assert.Equal(t, "likely transient", sr.Enrichment.Analysis)
	assert.Equal(t, []string{"retry"}, sr.Enrichment.Suggestions)
	assert.Equal(t, 0.75, sr.Enrichment.Confidence)
	assert.True(t, sr.Enrichment.EnrichedAt.Equal(enrichedAt))
	require.NotNil(t, sr.SyncedAt)
	assert.True(t, sr.SyncedAt.Equal(syncedAt))
}

func TestMarshalUnmarshalMetadataRoundTrip(t *testing.T) {
	in := map[string]string{"container_id": "abc123"}
	ns, err := marshalMetadata(in)
	require.NoError(t, err)
	out, err := unmarshalMetadata(ns)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	empty, err := unmarshalMetadata(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMarshalUnmarshalStringsRoundTrip(t *testing.T) {
	in := []string{"retry with backoff", "check upstream"}
	ns, err := marshalStrings(in)
	require.NoError(t, err)
	out, err := unmarshalStrings(ns)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
