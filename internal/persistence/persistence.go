// Package persistence defines the stored-record shape shared by the
// Persistence Writer, the Subscriber Hub, and the Broker Consumer, so
// none of those packages need to import each other directly.
package persistence

import (
	"time"

	"github.com/opsentra/opsentra/internal/record"
)

// StoredRecord is a persisted record.Record plus the bookkeeping fields
// the Persistence Writer and Archival Scheduler need: a stable identifier,
// and whether/when it has been synced to cold storage.
type StoredRecord struct {
	ID         string `json:"id"`
	record.Record
	Synced     bool               `json:"synced"`
	SyncedAt   *time.Time         `json:"syncedAt,omitempty"`
	Enrichment *record.Enrichment `json:"enrichment,omitempty"`
}
