/*
Package supervisor provides process supervision for OpSentra using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of all long-running services in both the Shipper and the
Aggregator. It provides Erlang/OTP-style supervision with automatic restart,
failure isolation, and graceful shutdown.

# Overview

The supervisor tree organizes services into three layers for failure
isolation:

	RootSupervisor
	├── DataSupervisor ("data-layer")
	│   ├── Tailer services (Shipper) / Broker Consumer + Retention Janitor (Aggregator)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Broker Publisher (Shipper) / Subscriber Hub + Archival Scheduler (Aggregator)
	└── APISupervisor ("api-layer")
	    └── HTTP server (Aggregator only)

This hierarchy ensures that, for example, a broker flap on the messaging
layer does not take down the HTTP health/fetch surface, and that a single
misbehaving file tailer does not affect the others.

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return nil for a clean stop (no restart); return an error to trigger a
restart under the configured backoff policy; return promptly on context
cancellation during shutdown.

# Failure Handling

Each service failure increments a per-supervisor counter that decays
exponentially over FailureDecay seconds. Once the counter exceeds
FailureThreshold, the supervisor enters backoff and delays restarts by
FailureBackoff. This prevents restart storms on a broker or store outage
while still recovering automatically once the dependency returns.
*/
package supervisor
