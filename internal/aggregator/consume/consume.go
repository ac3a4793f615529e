// Package consume implements the Broker Consumer: durable JetStream pull
// consumers for the "raw-logs" and "enriched" queues, with bounded
// prefetch and ack-after-dispatch semantics. Undecodable payloads are
// dead-lettered (logged and acked) on first delivery. A message whose
// dispatch fails is nacked and redelivered until JetStream's MaxDeliver
// limit is reached; the broker then stops redelivering it, and this
// package does not log that final drop.
package consume

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/opsentra/opsentra/internal/brokerproto"
	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/metrics"
	"github.com/opsentra/opsentra/internal/record"
)

const (
	defaultMaxAckPending = 10
	defaultMaxDeliver    = 3
	defaultAckWait       = 30 * time.Second
)

// Store is the Persistence Writer surface the consumer needs. Defined
// here rather than imported from internal/aggregator/persist to avoid a
// dependency cycle; internal/aggregator/persist.Store satisfies it.
type Store interface {
	Insert(ctx context.Context, r record.Record) (id string, err error)
	ApplyEnrichment(ctx context.Context, e record.Enrichment) error
}

// Hub is the Subscriber Hub surface the consumer needs.
type Hub interface {
	BroadcastRecord(id string, r record.Record)
	BroadcastEnrichment(e record.Enrichment)
}

// Config holds the Broker Consumer's tunables.
type Config struct {
	BrokerURL     string
	MaxAckPending int
	MaxDeliver    int
	AckWait       time.Duration
}

// Consumer owns the two durable JetStream subscriptions ("raw-logs" and
// "enriched") and dispatches decoded payloads to the Persistence Writer
// and Subscriber Hub.
type Consumer struct {
	cfg   Config
	store Store
	hub   Hub

	eventLog *logging.EventLogger
	wmLogger watermill.LoggerAdapter
}

// NewConsumer constructs a Consumer; it does not subscribe until Serve runs.
func NewConsumer(cfg Config, store Store, hub Hub, eventLog *logging.EventLogger) *Consumer {
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = defaultMaxAckPending
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = defaultMaxDeliver
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	return &Consumer{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		eventLog: eventLog,
		wmLogger: watermill.NewStdLogger(false, false),
	}
}

// Serve implements suture.Service. It runs both the raw-logs and enriched
// subscriptions concurrently until ctx is canceled or either subscription
// returns a fatal error.
func (c *Consumer) Serve(ctx context.Context) error {
	rawSub, err := c.newSubscriber("raw-logs-consumer")
	if err != nil {
		return fmt.Errorf("broker consumer: create raw-logs subscriber: %w", err)
	}
	defer rawSub.Close()

	enrichedSub, err := c.newSubscriber("enriched-consumer")
	if err != nil {
		return fmt.Errorf("broker consumer: create enriched subscriber: %w", err)
	}
	defer enrichedSub.Close()

	rawMsgs, err := rawSub.Subscribe(ctx, brokerproto.RawLogsStreamSubjects)
	if err != nil {
		return fmt.Errorf("broker consumer: subscribe raw-logs: %w", err)
	}
	if c.eventLog != nil {
		c.eventLog.LogSubscriptionStarted(brokerproto.RawLogsStreamSubjects, "raw-logs")
	}

	enrichedMsgs, err := enrichedSub.Subscribe(ctx, brokerproto.EnrichedStreamSubjects)
	if err != nil {
		return fmt.Errorf("broker consumer: subscribe enriched: %w", err)
	}
	if c.eventLog != nil {
		c.eventLog.LogSubscriptionStarted(brokerproto.EnrichedStreamSubjects, "enriched")
	}

	errCh := make(chan error, 2)
	go func() { errCh <- c.runRawLogs(ctx, rawMsgs) }()
	go func() { errCh <- c.runEnriched(ctx, enrichedMsgs) }()

	select {
	case <-ctx.Done():
		if c.eventLog != nil {
			c.eventLog.LogSubscriptionStopped(brokerproto.RawLogsStreamSubjects)
			c.eventLog.LogSubscriptionStopped(brokerproto.EnrichedStreamSubjects)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (c *Consumer) newSubscriber(durablePrefix string) (*wmNats.Subscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				c.wmLogger.Error("broker consumer disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			c.wmLogger.Info("broker consumer reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(c.cfg.MaxDeliver),
		natsgo.MaxAckPending(c.cfg.MaxAckPending),
		natsgo.AckWait(c.cfg.AckWait),
		natsgo.DeliverAll(),
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              c.cfg.BrokerURL,
		QueueGroupPrefix: durablePrefix,
		SubscribersCount: 1,
		AckWaitTimeout:   c.cfg.AckWait,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    true,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    durablePrefix,
		},
	}

	return wmNats.NewSubscriber(wmConfig, c.wmLogger)
}

func (c *Consumer) runRawLogs(ctx context.Context, msgs <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handleRawLog(ctx, msg)
		}
	}
}

func (c *Consumer) handleRawLog(ctx context.Context, msg *message.Message) {
	start := time.Now()

	var env brokerproto.LogEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		c.deadLetter(ctx, msg, "raw-logs", fmt.Errorf("decode log envelope: %w", err))
		return
	}

	r, err := env.ToRecord()
	if err != nil {
		c.deadLetter(ctx, msg, "raw-logs", err)
		return
	}

	id, err := c.store.Insert(ctx, r)
	if err != nil {
		msg.Nack()
		metrics.RecordPersistWrite(time.Since(start), "insert_failed")
		return
	}
	metrics.RecordPersistWrite(time.Since(start), "")

	c.hub.BroadcastRecord(id, r)

	msg.Ack()
	metrics.RecordConsumeAck("raw-logs")
	if c.eventLog != nil {
		c.eventLog.LogRecordConsumed(ctx, id, time.Since(start).Milliseconds())
	}
}

func (c *Consumer) runEnriched(ctx context.Context, msgs <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handleEnriched(ctx, msg)
		}
	}
}

func (c *Consumer) handleEnriched(ctx context.Context, msg *message.Message) {
	var env brokerproto.EnrichmentEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		c.deadLetter(ctx, msg, "enriched", fmt.Errorf("decode enrichment envelope: %w", err))
		return
	}

	e := env.ToEnrichment()
	if err := c.store.ApplyEnrichment(ctx, e); err != nil {
		msg.Nack()
		return
	}

	c.hub.BroadcastEnrichment(e)

	msg.Ack()
	metrics.RecordConsumeAck("enriched")
	if c.eventLog != nil {
		c.eventLog.LogRecordConsumed(ctx, e.RecordID, 0)
	}
}

// deadLetter is reached for messages this consumer can never successfully
// process (malformed payloads); retrying would only burn delivery attempts,
// so these are logged and dropped immediately rather than nacked.
func (c *Consumer) deadLetter(ctx context.Context, msg *message.Message, stream string, err error) {
	metrics.RecordDeadLetter(stream)
	if c.eventLog != nil {
		c.eventLog.LogDeadLetter(ctx, msg.UUID, err, 1)
	}
	msg.Ack()
}
