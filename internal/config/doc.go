/*
Package config provides layered configuration loading for the Shipper and
Aggregator binaries via Koanf v2.

# Configuration Sources

Configuration is resolved in three layers, highest priority last:

  - Defaults: built-in, returned by defaultConfig()
  - Config file: optional YAML file, found via DefaultConfigPaths or
    CONFIG_PATH
  - Environment variables: see envTransformFunc for the supported names

# Shipper Surface

	BROKER_URL (required), LOG_PATHS, CONTAINER_ENABLED, POD_ENABLED,
	CI_ENABLED, CUSTOM_PATHS, BATCH_SIZE, BATCH_TIMEOUT_MS, LOG_LEVEL

# Aggregator Surface

	BROKER_URL (required), STORE_URI (required), OBJECT_STORE_REGION,
	OBJECT_STORE_ENDPOINT, OBJECT_STORE_CREDENTIALS, BUCKET_PREFIX,
	ARCHIVE_INTERVAL_MINUTES, ARCHIVE_BATCH_LIMIT, LISTEN_ADDRESS,
	SUBSCRIBER_BUFFER_SIZE

# Usage

	cfg, err := config.LoadShipperConfig()
	if err != nil {
	    log.Fatalf("failed to load config: %v", err)
	}
*/
package config
