package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/opsentra/config.yaml",
	"/etc/opsentra/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with sensible defaults for both the
// shipper and aggregator surfaces. Defaults are applied first, then
// overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Shipper: ShipperConfig{
			BrokerURL:        "",
			LogPaths:         []string{"/var/log/*.log"},
			ContainerEnabled: false,
			PodEnabled:       false,
			CIEnabled:        false,
			CustomPaths:      []string{},
			BatchSize:        10000,
			BatchTimeoutMs:   1000,
			PublishQueueCapacity: 10000,
			LogLevel:         "info",
			RetryWindow:      30 * time.Second,
			IdentityCacheTTL: 5 * time.Minute,
			ContainerLogRoot: "/var/lib/docker/containers",
			PodLogRoot:       "/var/log/pods",
		},
		Aggregator: AggregatorConfig{
			BrokerURL:              "",
			StoreURI:               "/data/opsentra.duckdb",
			ObjectStoreRegion:      "us-east-1",
			ObjectStoreEndpoint:    "",
			ObjectStoreCredentials: "",
			ObjectStoreUseSSL:      true,
			BucketPrefix:           "opsentra-archive",
			ArchiveIntervalMinutes: 10,
			ArchiveWindowMinutes:   10,
			ArchiveBatchLimit:      10000,
			RetentionDays:          30,
			ListenAddress:          "0.0.0.0:8088",
			SubscriberBufferSize:   1000,
			PublishQueueCapacity:   10000,
			LogLevel:               "info",
			ShutdownTimeout:        10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if present)
//  3. Environment variables: override any setting
//
// Precedence is ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// BROKER_URL -> shipper.broker_url (and aggregator.broker_url, see
	// envTransformFunc), ARCHIVE_BATCH_LIMIT -> aggregator.archive_batch_limit.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if v := os.Getenv("BROKER_URL"); v != "" && os.Getenv("AGGREGATOR_BROKER_URL") == "" {
		if err := k.Set("aggregator.broker_url", v); err != nil {
			return nil, fmt.Errorf("failed to set aggregator.broker_url: %w", err)
		}
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// LoadShipperConfig loads and validates the Shipper's configuration surface.
func LoadShipperConfig() (*ShipperConfig, error) {
	cfg, err := LoadWithKoanf()
	if err != nil {
		return nil, err
	}
	if err := cfg.Shipper.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg.Shipper, nil
}

// LoadAggregatorConfig loads and validates the Aggregator's configuration surface.
func LoadAggregatorConfig() (*AggregatorConfig, error) {
	cfg, err := LoadWithKoanf()
	if err != nil {
		return nil, err
	}
	if err := cfg.Aggregator.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg.Aggregator, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices.
var sliceConfigPaths = []string{
	"shipper.log_paths",
	"shipper.custom_paths",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Both binaries share a process environment in local/dev compose setups, so
// broker_url is accepted under either BROKER_URL (applies to both surfaces)
// or the explicitly namespaced SHIPPER_BROKER_URL/AGGREGATOR_BROKER_URL.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Shared
		"broker_url": "shipper.broker_url",
		"log_level":  "shipper.log_level",

		// Shipper
		"shipper_broker_url": "shipper.broker_url",
		"log_paths":          "shipper.log_paths",
		"container_enabled":  "shipper.container_enabled",
		"container_log_root": "shipper.container_log_root",
		"pod_enabled":        "shipper.pod_enabled",
		"pod_log_root":       "shipper.pod_log_root",
		"ci_enabled":         "shipper.ci_enabled",
		"ci_root":            "shipper.ci_root",
		"custom_paths":       "shipper.custom_paths",
		"batch_size":         "shipper.batch_size",
		"batch_timeout_ms":   "shipper.batch_timeout_ms",
		"shipper_log_level":  "shipper.log_level",
		"retry_window":       "shipper.retry_window",
		"identity_cache_ttl": "shipper.identity_cache_ttl",
		"shipper_publish_queue_capacity": "shipper.publish_queue_capacity",

		// Aggregator
		"aggregator_broker_url":    "aggregator.broker_url",
		"store_uri":                "aggregator.store_uri",
		"object_store_region":      "aggregator.object_store_region",
		"object_store_endpoint":    "aggregator.object_store_endpoint",
		"object_store_credentials": "aggregator.object_store_credentials",
		"object_store_use_ssl":     "aggregator.object_store_use_ssl",
		"bucket_prefix":            "aggregator.bucket_prefix",
		"archive_interval_minutes": "aggregator.archive_interval_minutes",
		"archive_window_minutes":   "aggregator.archive_window_minutes",
		"archive_batch_limit":      "aggregator.archive_batch_limit",
		"retention_days":           "aggregator.retention_days",
		"listen_address":           "aggregator.listen_address",
		"subscriber_buffer_size":   "aggregator.subscriber_buffer_size",
		"publish_queue_capacity":   "aggregator.publish_queue_capacity",
		"aggregator_log_level":     "aggregator.log_level",
		"shutdown_timeout":         "aggregator.shutdown_timeout",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}

// GetKoanfInstance returns a new Koanf instance for advanced usage (hot-reload,
// custom sources, or tests that need direct access to the merged tree).
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile sets up a file watcher for hot-reload capability. The
// caller is responsible for mutex protection when accessing configuration
// during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
