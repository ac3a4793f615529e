// Package archive implements the Archival Scheduler: a single-flight
// ticker that batches unsynced records, compresses them, uploads them to
// object storage, and atomically marks the batch synced — retrying the
// whole batch on any step's failure rather than partially marking it.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/metrics"
	"github.com/opsentra/opsentra/internal/persistence"
)

// Store is the Persistence Writer surface the scheduler needs.
type Store interface {
	UnsyncedInWindow(ctx context.Context, since time.Time, limit int) ([]persistence.StoredRecord, error)
	MarkSynced(ctx context.Context, ids []string, syncedAt time.Time) error
}

// Config holds the Archival Scheduler's tunables.
type Config struct {
	Interval    time.Duration
	Window      time.Duration
	BatchLimit  int
	BucketPrefix string

	ObjectStoreRegion      string
	ObjectStoreEndpoint    string
	ObjectStoreCredentials string // "accessKey:secretKey"
	ObjectStoreUseSSL      bool

	// CaptureIP is the capture host's IP, determined once per process,
	// and baked into the destination bucket name.
	CaptureIP string
}

const defaultWindow = 10 * time.Minute

// Scheduler runs the Archival Scheduler's ticker loop.
type Scheduler struct {
	cfg    Config
	store  Store
	client *minio.Client
	bucket string

	running  atomic.Bool
	eventLog *logging.EventLogger
	secLog   *logging.SecurityLogger
}

// NewScheduler constructs a Scheduler and its object-store client.
func NewScheduler(cfg Config, store Store, eventLog *logging.EventLogger, secLog *logging.SecurityLogger) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10000
	}

	accessKey, secretKey, err := splitCredentials(cfg.ObjectStoreCredentials)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	client, err := minio.New(cfg.ObjectStoreEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.ObjectStoreUseSSL,
		Region: cfg.ObjectStoreRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create object store client: %w", err)
	}

	return &Scheduler{
		cfg:      cfg,
		store:    store,
		client:   client,
		bucket:   bucketName(cfg.BucketPrefix, cfg.CaptureIP),
		eventLog: eventLog,
		secLog:   secLog,
	}, nil
}

func splitCredentials(raw string) (accessKey, secretKey string, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("object_store_credentials must be \"accessKey:secretKey\"")
	}
	return parts[0], parts[1], nil
}

func bucketName(prefix, captureIP string) string {
	ip := captureIP
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf("%s-logs-%s", prefix, strings.ReplaceAll(ip, ".", "-"))
}

// Ping reports whether the object store is reachable, for the HTTP
// surface's /health dependency check.
func (s *Scheduler) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes one archival pass, guarded so at most one run is ever
// in flight; an overrun tick is skipped rather than queued.
func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.RecordArchiveRun("skipped_overlap", 0, 0)
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	since := start.Add(-s.cfg.Window)

	records, err := s.store.UnsyncedInWindow(ctx, since, s.cfg.BatchLimit)
	if err != nil {
		s.logFailure(ctx, "query", err)
		return
	}
	if len(records) == 0 {
		metrics.RecordArchiveRun("success", 0, time.Since(start))
		return
	}

	payload, err := compress(records)
	if err != nil {
		s.logFailure(ctx, "serialize", err)
		return
	}

	if err := s.ensureBucket(ctx); err != nil {
		s.logFailure(ctx, "bucket", err)
		if s.secLog != nil {
			s.secLog.LogArchiveCredentialError(s.bucket, err.Error())
		}
		return
	}

	key := objectKey(start)
	if err := s.upload(ctx, key, payload, len(records)); err != nil {
		s.logFailure(ctx, "upload", err)
		return
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := s.store.MarkSynced(ctx, ids, time.Now()); err != nil {
		s.logFailure(ctx, "mark_synced", err)
		return
	}

	metrics.ArchiveLastSuccessTimestamp.SetToCurrentTime()
	metrics.RecordArchiveRun("success", len(records), time.Since(start))
	if s.eventLog != nil {
		s.eventLog.LogBatchFlush(ctx, len(records), time.Since(start).Milliseconds())
	}
}

func (s *Scheduler) logFailure(ctx context.Context, step string, err error) {
	metrics.RecordArchiveRun("failure", 0, 0)
	if s.eventLog != nil {
		s.eventLog.ErrorContext(ctx, "archival run failed", "step", step, "error", err.Error())
	}
}

func (s *Scheduler) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.cfg.ObjectStoreRegion})
	if err != nil {
		exists, existsErr := s.client.BucketExists(ctx, s.bucket)
		if existsErr == nil && exists {
			return nil // lost the creation race to another process; fine
		}
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *Scheduler) upload(ctx context.Context, key string, payload []byte, count int) error {
	reader := bytes.NewReader(payload)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(payload)), minio.PutObjectOptions{
		ContentType:     "application/gzip",
		ContentEncoding: "gzip",
		UserMetadata: map[string]string{
			"log-count":   fmt.Sprintf("%d", count),
			"compression": "gzip",
			"version":     "3.0",
		},
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// objectKey formats the destination key with UTC-timestamp colons
// replaced, per the archival naming convention.
func objectKey(t time.Time) string {
	ts := strings.ReplaceAll(t.UTC().Format(time.RFC3339), ":", "-")
	return fmt.Sprintf("logs-%s.json.gz", ts)
}

// compress serializes records to a compact JSON array and gzip-compresses it.
func compress(records []persistence.StoredRecord) ([]byte, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
