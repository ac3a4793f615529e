// Package persist implements the Persistence Writer: a DuckDB-backed
// time-series-like store for log records, indexed for recent-by-service
// reads, severity filters, and archival scans, with an explicit retention
// janitor standing in for the native TTL DuckDB does not provide.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/opsentra/opsentra/internal/persistence"
	"github.com/opsentra/opsentra/internal/record"
)

// Config holds the Persistence Writer's tunables.
type Config struct {
	// StoreURI is the DuckDB database file path.
	StoreURI string
	// RetentionDays is how long records are kept before the janitor purges them.
	RetentionDays int
}

// Store wraps a DuckDB connection pool and implements the narrow interface
// the Broker Consumer, Archival Scheduler, and HTTP surface need.
type Store struct {
	conn *sql.DB
	cfg  Config
}

// Open opens (creating if necessary) the DuckDB store and creates the
// schema and indexes idempotently.
func Open(cfg Config) (*Store, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.StoreURI, runtime.NumCPU())
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("persist: open duckdb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("persist: ping duckdb: %w", err)
	}

	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{conn: conn, cfg: cfg}
	if err := s.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("persist: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS log_records (
			id VARCHAR PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			level VARCHAR NOT NULL,
			service VARCHAR NOT NULL,
			host VARCHAR NOT NULL,
			ip VARCHAR,
			source VARCHAR,
			message VARCHAR NOT NULL,
			source_type VARCHAR NOT NULL,
			metadata_json VARCHAR,
			synced BOOLEAN NOT NULL DEFAULT false,
			synced_at TIMESTAMP,
			enrichment_analysis VARCHAR,
			enrichment_suggestions_json VARCHAR,
			enrichment_confidence DOUBLE,
			enriched_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_log_records_timestamp_service ON log_records(timestamp DESC, service ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_log_records_level_timestamp ON log_records(level ASC, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_log_records_synced_timestamp ON log_records(synced ASC, timestamp ASC);`,
	}

	for _, stmt := range statements {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping reports whether the underlying connection pool is reachable, for
// the HTTP surface's /health dependency check.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Insert stores r and returns its generated identifier.
func (s *Store) Insert(ctx context.Context, r record.Record) (string, error) {
	if !r.Valid() {
		return "", fmt.Errorf("persist: refusing to insert invalid record")
	}

	id := uuid.NewString()
	metadataJSON, err := marshalMetadata(r.Metadata)
	if err != nil {
		return "", fmt.Errorf("persist: marshal metadata: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO log_records (id, timestamp, level, service, host, ip, source, message, source_type, metadata_json, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, false)`,
		id, r.Timestamp, string(r.Level), r.Service, r.Host, r.IP, r.Source, r.Message, string(r.SourceType), metadataJSON,
	)
	if err != nil {
		return "", fmt.Errorf("persist: insert record: %w", err)
	}
	return id, nil
}

// ApplyEnrichment updates the record identified by e.RecordID with
// enrichment fields.
func (s *Store) ApplyEnrichment(ctx context.Context, e record.Enrichment) error {
	suggestionsJSON, err := marshalStrings(e.Suggestions)
	if err != nil {
		return fmt.Errorf("persist: marshal suggestions: %w", err)
	}

	result, err := s.conn.ExecContext(ctx, `
		UPDATE log_records
		SET enrichment_analysis = ?, enrichment_suggestions_json = ?, enrichment_confidence = ?, enriched_at = ?
		WHERE id = ?`,
		e.Analysis, suggestionsJSON, e.Confidence, time.Now().UTC(), e.RecordID,
	)
	if err != nil {
		return fmt.Errorf("persist: apply enrichment: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("persist: no record found for enrichment identifier %q", e.RecordID)
	}
	return nil
}

// FilterParams bounds a filtered fetch against the /logs endpoint.
type FilterParams struct {
	Limit   int
	Service string
	Level   record.Level
}

// Fetch returns records matching the given filter, most recent first.
func (s *Store) Fetch(ctx context.Context, params FilterParams) ([]persistence.StoredRecord, error) {
	query := `SELECT id, timestamp, level, service, host, ip, source, message, source_type, metadata_json,
		synced, synced_at, enrichment_analysis, enrichment_suggestions_json, enrichment_confidence, enriched_at
		FROM log_records WHERE 1=1`
	args := []interface{}{}

	if params.Service != "" {
		query += " AND service = ?"
		args = append(args, params.Service)
	}
	if params.Level != "" {
		query += " AND level = ?"
		args = append(args, string(params.Level))
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, params.Limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("persist: fetch: %w", err)
	}
	defer rows.Close()

	var out []persistence.StoredRecord
	for rows.Next() {
		sr, err := scanStoredRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("persist: scan row: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// DistinctServices returns the distinct set of service names observed.
func (s *Store) DistinctServices(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT DISTINCT service FROM log_records ORDER BY service ASC`)
	if err != nil {
		return nil, fmt.Errorf("persist: distinct services: %w", err)
	}
	defer rows.Close()

	var services []string
	for rows.Next() {
		var svc string
		if err := rows.Scan(&svc); err != nil {
			return nil, fmt.Errorf("persist: scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// UnsyncedInWindow returns up to limit unsynced records with a timestamp
// at or after since, oldest first — the Archival Scheduler's read path.
func (s *Store) UnsyncedInWindow(ctx context.Context, since time.Time, limit int) ([]persistence.StoredRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, timestamp, level, service, host, ip, source, message, source_type, metadata_json,
			synced, synced_at, enrichment_analysis, enrichment_suggestions_json, enrichment_confidence, enriched_at
		FROM log_records
		WHERE synced = false AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("persist: unsynced in window: %w", err)
	}
	defer rows.Close()

	var out []persistence.StoredRecord
	for rows.Next() {
		sr, err := scanStoredRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("persist: scan row: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// MarkSynced marks the given record identifiers as synced at syncedAt.
func (s *Store) MarkSynced(ctx context.Context, ids []string, syncedAt time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: begin mark-synced transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE log_records SET synced = true, synced_at = ? WHERE id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("persist: prepare mark-synced: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, syncedAt, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("persist: mark synced %q: %w", id, err)
		}
	}

	return tx.Commit()
}

// PurgeOlderThan deletes records older than the retention window and
// returns the number of rows removed. Invoked by the retention janitor.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM log_records WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("persist: purge: %w", err)
	}
	return result.RowsAffected()
}
