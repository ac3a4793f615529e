// Command aggregator runs the OpSentra collector: it consumes records and
// enrichments from the broker, persists them, fans them out to live
// subscribers over server-sent events, and periodically archives unsynced
// records to cold object storage.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/opsentra/opsentra/internal/aggregator/api"
	"github.com/opsentra/opsentra/internal/aggregator/archive"
	"github.com/opsentra/opsentra/internal/aggregator/consume"
	"github.com/opsentra/opsentra/internal/aggregator/hub"
	"github.com/opsentra/opsentra/internal/aggregator/persist"
	"github.com/opsentra/opsentra/internal/config"
	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("aggregator exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAggregatorConfig()
	if err != nil {
		return fmt.Errorf("load aggregator config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: "json"})
	eventLog := logging.NewEventLogger()
	secLog := logging.NewSecurityLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Lifecycle Supervisor startup order: persistence store, object store
	// client (via the archival scheduler below), broker, subscriber hub,
	// archival scheduler.
	store, err := persist.Open(persist.Config{
		StoreURI:      cfg.StoreURI,
		RetentionDays: cfg.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer store.Close()

	scheduler, err := archive.NewScheduler(archive.Config{
		Interval:               time.Duration(cfg.ArchiveIntervalMinutes) * time.Minute,
		Window:                 time.Duration(cfg.ArchiveWindowMinutes) * time.Minute,
		BatchLimit:             cfg.ArchiveBatchLimit,
		BucketPrefix:           cfg.BucketPrefix,
		ObjectStoreRegion:      cfg.ObjectStoreRegion,
		ObjectStoreEndpoint:    cfg.ObjectStoreEndpoint,
		ObjectStoreCredentials: cfg.ObjectStoreCredentials,
		ObjectStoreUseSSL:      cfg.ObjectStoreUseSSL,
		CaptureIP:              captureIP(),
	}, store, eventLog, secLog)
	if err != nil {
		return fmt.Errorf("build archival scheduler: %w", err)
	}

	janitor := persist.NewRetentionJanitor(store, time.Duration(cfg.ArchiveIntervalMinutes)*time.Minute, time.Duration(cfg.RetentionDays)*24*time.Hour, eventLog)

	subscriberHub := hub.NewHub(hub.Config{BufferSize: cfg.SubscriberBufferSize}, secLog)

	consumer := consume.NewConsumer(consume.Config{
		BrokerURL: cfg.BrokerURL,
	}, store, subscriberHub, eventLog)

	handler := api.NewHandler(store, subscriberHub, api.Config{
		ListenAddress:    cfg.ListenAddress,
		ShutdownTimeout:  cfg.ShutdownTimeout,
		CORSOrigins:      []string{"*"},
		CheckBroker:      func(ctx context.Context) error { return pingBroker(ctx, cfg.BrokerURL) },
		CheckStore:       store.Ping,
		CheckObjectStore: scheduler.Ping,
	}, version())
	router := api.NewRouter(handler, api.Config{CORSOrigins: []string{"*"}})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: router,
	}
	apiService := api.NewService(httpServer, cfg.ShutdownTimeout)

	tree, err := supervisor.NewSupervisorTree(
		logging.NewSlogLoggerWithLevel(cfg.LogLevel),
		supervisor.DefaultTreeConfig(),
	)
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}

	tree.AddDataService(consumer)
	tree.AddDataService(janitor)
	tree.AddMessagingService(subscriberHub)
	tree.AddMessagingService(scheduler)
	tree.AddAPIService(apiService)

	logging.Info().Str("listen_address", cfg.ListenAddress).Msg("aggregator starting")
	return tree.Serve(ctx)
}

// captureIP determines the capture host's stable identity for the
// archival bucket name; it does not attempt the cloud-metadata probe the
// Record Builder performs, since the bucket name only needs a stable,
// locally-known value.
func captureIP() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

// pingBroker dials the broker with a short timeout to confirm reachability.
// The nats.go client has no context-aware Connect, so cancellation is
// enforced via the connect timeout option instead of ctx directly.
func pingBroker(_ context.Context, url string) error {
	nc, err := natsgo.Connect(url, natsgo.Timeout(2*time.Second), natsgo.RetryOnFailedConnect(false))
	if err != nil {
		return err
	}
	defer nc.Close()
	return nil
}

func version() string {
	if v := os.Getenv("OPSENTRA_VERSION"); v != "" {
		return v
	}
	return "dev"
}
