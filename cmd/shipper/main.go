// Command shipper runs the OpSentra log shipping agent: it discovers log
// sources once at startup, tails each one independently, builds LogRecords
// from the raw lines, and publishes them durably to the broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsentra/opsentra/internal/config"
	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/shipper/build"
	"github.com/opsentra/opsentra/internal/shipper/discover"
	"github.com/opsentra/opsentra/internal/shipper/publish"
	"github.com/opsentra/opsentra/internal/shipper/tail"
	"github.com/opsentra/opsentra/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("shipper exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadShipperConfig()
	if err != nil {
		return fmt.Errorf("load shipper config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: "json"})
	eventLog := logging.NewEventLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, err := discover.Discover(discover.Config{
		LogPaths:         cfg.LogPaths,
		ContainerEnabled: cfg.ContainerEnabled,
		ContainerLogRoot: cfg.ContainerLogRoot,
		PodEnabled:       cfg.PodEnabled,
		PodLogRoot:       cfg.PodLogRoot,
		CIEnabled:        cfg.CIEnabled,
		CIRoot:           cfg.CIRoot,
		CustomPaths:      cfg.CustomPaths,
	}, eventLog)
	if err != nil {
		return fmt.Errorf("discover sources: %w", err)
	}
	logging.Info().Int("count", len(sources)).Msg("discovered log sources")

	publisher := publish.NewPublisher(publish.Config{
		BrokerURL:     cfg.BrokerURL,
		QueueCapacity: cfg.PublishQueueCapacity,
	}, eventLog, logging.NewSecurityLogger())

	resolver := build.NewIdentityResolver(os.Getenv("CLOUD_METADATA_URL"))
	builder := build.NewBuilder(resolver)
	sink := &builderSink{builder: builder, publisher: publisher}

	tree, err := supervisor.NewSupervisorTree(
		logging.NewSlogLoggerWithLevel(cfg.LogLevel),
		supervisor.DefaultTreeConfig(),
	)
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}

	tree.AddMessagingService(publisher)
	for _, src := range sources {
		tailer := tail.NewTailer(src, sink, tail.Config{RetryWindow: cfg.RetryWindow}, eventLog)
		tree.AddDataService(tailer)
	}

	return tree.Serve(ctx)
}

// builderSink adapts the Record Builder and Broker Publisher into the
// tail.Sink the Tailer delivers lines to.
type builderSink struct {
	builder   *build.Builder
	publisher *publish.Publisher
}

func (s *builderSink) Emit(ctx context.Context, line tail.Line) {
	rec, ok := s.builder.Build(ctx, line.Text, build.SourceDescriptor{
		Path:        line.Source.Path,
		SourceType:  line.Source.SourceType,
		Service:     line.Source.Service,
		AuxMetadata: line.Source.AuxMetadata,
	})
	if !ok {
		return
	}
	s.publisher.Enqueue(rec)
}
