package config

import (
	"fmt"
	"time"
)

// ShipperConfig holds the configuration surface for the log shipping agent,
// matching the "Shipper configuration surface" options: brokerUrl, logPaths,
// containerEnabled, podEnabled, ciEnabled, customPaths, batchSize,
// batchTimeoutMs, logLevel. brokerUrl has no default and must be supplied.
type ShipperConfig struct {
	BrokerURL         string        `koanf:"broker_url"`
	LogPaths          []string      `koanf:"log_paths"`
	ContainerEnabled  bool          `koanf:"container_enabled"`
	ContainerLogRoot  string        `koanf:"container_log_root"`
	PodEnabled        bool          `koanf:"pod_enabled"`
	PodLogRoot        string        `koanf:"pod_log_root"`
	CIEnabled         bool          `koanf:"ci_enabled"`
	CIRoot            string        `koanf:"ci_root"`
	CustomPaths       []string      `koanf:"custom_paths"`
	BatchSize         int           `koanf:"batch_size"`
	BatchTimeoutMs    int           `koanf:"batch_timeout_ms"`
	PublishQueueCapacity int        `koanf:"publish_queue_capacity"`
	LogLevel          string        `koanf:"log_level"`
	RetryWindow       time.Duration `koanf:"retry_window"`
	IdentityCacheTTL  time.Duration `koanf:"identity_cache_ttl"`
}

// AggregatorConfig holds the configuration surface for the collector/API
// service: brokerUrl, storeUri, objectStoreRegion, objectStoreCredentials,
// bucketPrefix, archiveIntervalMinutes, archiveBatchLimit, listenAddress,
// subscriberBufferSize.
type AggregatorConfig struct {
	BrokerURL              string        `koanf:"broker_url"`
	StoreURI               string        `koanf:"store_uri"`
	ObjectStoreRegion      string        `koanf:"object_store_region"`
	ObjectStoreEndpoint    string        `koanf:"object_store_endpoint"`
	ObjectStoreCredentials string        `koanf:"object_store_credentials"`
	ObjectStoreUseSSL      bool          `koanf:"object_store_use_ssl"`
	BucketPrefix           string        `koanf:"bucket_prefix"`
	ArchiveIntervalMinutes int           `koanf:"archive_interval_minutes"`
	ArchiveWindowMinutes   int           `koanf:"archive_window_minutes"`
	ArchiveBatchLimit      int           `koanf:"archive_batch_limit"`
	RetentionDays          int           `koanf:"retention_days"`
	ListenAddress          string        `koanf:"listen_address"`
	SubscriberBufferSize   int           `koanf:"subscriber_buffer_size"`
	PublishQueueCapacity   int           `koanf:"publish_queue_capacity"`
	LogLevel               string        `koanf:"log_level"`
	ShutdownTimeout        time.Duration `koanf:"shutdown_timeout"`
}

// Config is the root configuration object loaded by both binaries. Only one
// of Shipper/Aggregator is populated with caller-meaningful values at a time;
// each binary loads its own surface via LoadShipperConfig/LoadAggregatorConfig.
type Config struct {
	Shipper    ShipperConfig    `koanf:"shipper"`
	Aggregator AggregatorConfig `koanf:"aggregator"`
}

// Validate checks required fields and value ranges for the shipper surface.
func (c *ShipperConfig) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("shipper: broker_url is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("shipper: batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BatchTimeoutMs <= 0 {
		return fmt.Errorf("shipper: batch_timeout_ms must be positive, got %d", c.BatchTimeoutMs)
	}
	return nil
}

// Validate checks required fields and value ranges for the aggregator surface.
func (c *AggregatorConfig) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("aggregator: broker_url is required")
	}
	if c.StoreURI == "" {
		return fmt.Errorf("aggregator: store_uri is required")
	}
	if c.ArchiveIntervalMinutes <= 0 {
		return fmt.Errorf("aggregator: archive_interval_minutes must be positive, got %d", c.ArchiveIntervalMinutes)
	}
	if c.ArchiveBatchLimit <= 0 {
		return fmt.Errorf("aggregator: archive_batch_limit must be positive, got %d", c.ArchiveBatchLimit)
	}
	if c.SubscriberBufferSize <= 0 {
		return fmt.Errorf("aggregator: subscriber_buffer_size must be positive, got %d", c.SubscriberBufferSize)
	}
	return nil
}
