package persist

import (
	"context"
	"time"

	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/metrics"
)

// RetentionJanitor periodically purges records older than the configured
// retention window. DuckDB has no native TTL, so this stands in for one,
// running on the same cadence as the Archival Scheduler.
type RetentionJanitor struct {
	store    *Store
	interval time.Duration
	window   time.Duration
	eventLog *logging.EventLogger
}

// NewRetentionJanitor constructs a janitor that purges records older than
// window, checking every interval.
func NewRetentionJanitor(store *Store, interval, window time.Duration, eventLog *logging.EventLogger) *RetentionJanitor {
	return &RetentionJanitor{store: store, interval: interval, window: window, eventLog: eventLog}
}

// Serve implements suture.Service.
func (j *RetentionJanitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *RetentionJanitor) runOnce(ctx context.Context) {
	cutoff := time.Now().Add(-j.window)
	purged, err := j.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		if j.eventLog != nil {
			j.eventLog.ErrorContext(ctx, "retention janitor purge failed", "error", err.Error())
		}
		return
	}
	if purged > 0 {
		metrics.PersistRetentionPurgedTotal.Add(float64(purged))
		if j.eventLog != nil {
			j.eventLog.InfoContext(ctx, "retention janitor purged records", "count", purged, "cutoff", cutoff)
		}
	}
}
