/*
Package metrics provides Prometheus instrumentation for the Shipper and
Aggregator binaries.

# Overview

Metrics are registered on the default Prometheus registry via promauto at
package init and updated in-process by the components they describe:

  - Source Discoverer / File Tailer: sources discovered, bytes read,
    truncation events, abandoned sources
  - Record Builder: records built per level, level-extraction fallback rate
  - Broker Publisher: queue depth, drop-oldest count, publish attempts and
    duration, reconnect state transitions, circuit breaker state
  - Broker Consumer: acknowledgments, dead-letter routing
  - Persistence Writer: write duration/errors, retention purge count
  - Subscriber Hub: connected subscriber count, disconnect reasons,
    broadcast duration
  - Archival Scheduler: run outcomes, batch size, upload duration, last
    success timestamp
  - HTTP surface: request count and duration by route

# No HTTP Exposition

This package intentionally does not register a /metrics HTTP handler. The
counters and histograms exist for in-process observability and tests assert
against the registry directly via prometheus/client_golang/prometheus/testutil.
*/
package metrics
