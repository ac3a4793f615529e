// Package publish implements the Broker Publisher: a bounded, drop-oldest
// in-memory queue fed by the Record Builder, drained by a single owning
// goroutine that runs an explicit reconnect state machine over a Watermill
// NATS JetStream publisher wrapped in a circuit breaker.
package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/opsentra/opsentra/internal/brokerproto"
	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/metrics"
	"github.com/opsentra/opsentra/internal/record"
)

// connState is the Broker Publisher's reconnect state machine, driven
// entirely by the owning goroutine in Serve.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateChanneling
	stateReady
	stateErrored
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateChanneling:
		return "channeling"
	case stateReady:
		return "ready"
	case stateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

const (
	defaultQueueCapacity    = 10000
	reconnectBase           = 5 * time.Second
	reconnectMax            = 30 * time.Second
	reconnectMultiplier     = 1.5
	publishRetryAttempts    = 3
	publishRetrySpacing     = 250 * time.Millisecond
	breakerFailureThreshold = 5
)

// Config holds the Broker Publisher's tunables.
type Config struct {
	BrokerURL     string
	QueueCapacity int
	MaxReconnects int
}

// Publisher owns the bounded outbound queue and the broker connection
// lifecycle. It is registered with the Lifecycle Supervisor as a
// suture.Service via Serve.
type Publisher struct {
	cfg Config

	mu    sync.Mutex
	state connState
	queue chan record.Record

	wmPublisher message.Publisher
	breaker     *gobreaker.CircuitBreaker[any]
	wmLogger    watermill.LoggerAdapter

	eventLog *logging.EventLogger
	secLog   *logging.SecurityLogger
}

// NewPublisher constructs a Publisher; it does not connect until Serve runs.
func NewPublisher(cfg Config, eventLog *logging.EventLogger, secLog *logging.SecurityLogger) *Publisher {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = -1 // unlimited, the FSM in Serve owns backoff
	}
	return &Publisher{
		cfg:      cfg,
		state:    stateDisconnected,
		queue:    make(chan record.Record, cfg.QueueCapacity),
		wmLogger: watermill.NewStdLogger(false, false),
		eventLog: eventLog,
		secLog:   secLog,
	}
}

// Enqueue offers a record to the bounded outbound queue, dropping the
// oldest queued record on overflow so the most recent activity survives
// a backlog.
func (p *Publisher) Enqueue(r record.Record) {
	select {
	case p.queue <- r:
		return
	default:
	}

	select {
	case <-p.queue:
		metrics.RecordQueueDrop()
	default:
	}

	select {
	case p.queue <- r:
	default:
		metrics.RecordQueueDrop()
	}
}

// State reports the current reconnect-FSM state. Exposed for tests.
func (p *Publisher) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.String()
}

func (p *Publisher) setState(s connState) {
	p.mu.Lock()
	from := p.state
	p.state = s
	p.mu.Unlock()
	if from != s {
		metrics.RecordReconnectTransition(from.String(), s.String())
		if p.eventLog != nil {
			p.eventLog.LogReconnectTransition(from.String(), s.String())
		}
	}
}

// Serve implements suture.Service. It owns the connect/publish/reconnect
// cycle until ctx is canceled.
func (p *Publisher) Serve(ctx context.Context) error {
	defer p.setState(stateDisconnected)

	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.connect(); err != nil {
			if p.secLog != nil {
				p.secLog.LogBrokerReconnectFailure(p.cfg.BrokerURL, err.Error())
			}
			p.setState(stateErrored)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			p.setState(stateDisconnected)
			continue
		}

		backoff = reconnectBase
		p.setState(stateReady)

		if err := p.drainUntilError(ctx); err != nil {
			if ctx.Err() != nil {
				_ = p.Close()
				return ctx.Err()
			}
			p.setState(stateErrored)
			_ = p.closeWatermillPublisher()
			continue
		}

		_ = p.Close()
		return nil
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * reconnectMultiplier)
	if next > reconnectMax {
		next = reconnectMax
	}
	return next
}

func (p *Publisher) connect() error {
	p.setState(stateConnecting)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(p.cfg.MaxReconnects),
		natsgo.ReconnectWait(reconnectBase),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				p.wmLogger.Error("broker publisher disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			p.wmLogger.Info("broker publisher reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         p.cfg.BrokerURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(publishRetryAttempts),
				natsgo.RetryWait(publishRetrySpacing),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, p.wmLogger)
	if err != nil {
		return fmt.Errorf("connect broker publisher: %w", err)
	}

	p.setState(stateConnected)
	p.setState(stateChanneling)

	p.mu.Lock()
	p.wmPublisher = pub
	p.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "broker-publisher",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     reconnectBase,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, float64(to))
		},
	})
	p.mu.Unlock()

	return nil
}

// drainUntilError consumes the outbound queue, publishing each record with
// its own bounded retry, until a persistent failure forces a reconnect.
func (p *Publisher) drainUntilError(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-p.queue:
			if err := p.publishWithRetry(ctx, r); err != nil {
				p.requeueHead(r)
				return err
			}
		}
	}
}

// publishWithRetry attempts delivery up to publishRetryAttempts times,
// spaced publishRetrySpacing apart, wrapped in the circuit breaker.
func (p *Publisher) publishWithRetry(ctx context.Context, r record.Record) error {
	var lastErr error
	for attempt := 1; attempt <= publishRetryAttempts; attempt++ {
		start := time.Now()
		err := p.publishOnce(r)
		elapsed := time.Since(start)
		if err == nil {
			metrics.RecordPublishAttempt("success", elapsed)
			if p.eventLog != nil {
				p.eventLog.LogRecordPublished(ctx, r.Service, brokerproto.RoutingKey(r.Service, r.IP, r.Host))
			}
			return nil
		}
		lastErr = err
		metrics.RecordPublishAttempt("retry", elapsed)
		if attempt < publishRetryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(publishRetrySpacing):
			}
		}
	}
	metrics.RecordPublishAttempt("failure", publishRetrySpacing)
	if p.eventLog != nil {
		p.eventLog.LogRecordPublishFailed(ctx, r.Service, lastErr)
	}
	return fmt.Errorf("publish record after %d attempts: %w", publishRetryAttempts, lastErr)
}

func (p *Publisher) publishOnce(r record.Record) error {
	p.mu.Lock()
	pub := p.wmPublisher
	breaker := p.breaker
	p.mu.Unlock()
	if pub == nil {
		return fmt.Errorf("publisher not connected")
	}

	subject := brokerproto.RoutingKey(r.Service, r.IP, r.Host)
	payload, err := json.Marshal(brokerproto.FromRecord(r))
	if err != nil {
		return fmt.Errorf("marshal record envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("service", r.Service)
	msg.Metadata.Set("sourceType", string(r.SourceType))
	if msg.Metadata.Get("Nats-Msg-Id") == "" {
		msg.Metadata.Set("Nats-Msg-Id", msg.UUID)
	}

	publishFn := func() (any, error) {
		return nil, pub.Publish(subject, msg)
	}

	if breaker != nil {
		_, err = breaker.Execute(publishFn)
	} else {
		_, err = publishFn()
	}
	return err
}

// requeueHead puts a record that failed persistently back at the head of
// the local queue by draining the current buffered contents, prepending r,
// and refilling — bounded by QueueCapacity so this never blocks forever.
func (p *Publisher) requeueHead(r record.Record) {
	pending := make([]record.Record, 0, len(p.queue))
drain:
	for {
		select {
		case v := <-p.queue:
			pending = append(pending, v)
		default:
			break drain
		}
	}

	select {
	case p.queue <- r:
	default:
		metrics.RecordQueueDrop()
	}
	for _, v := range pending {
		select {
		case p.queue <- v:
		default:
			metrics.RecordQueueDrop()
		}
	}
}

func (p *Publisher) closeWatermillPublisher() error {
	p.mu.Lock()
	pub := p.wmPublisher
	p.wmPublisher = nil
	p.mu.Unlock()
	if pub == nil {
		return nil
	}
	return pub.Close()
}

// Close releases the underlying broker connection. Safe to call multiple
// times.
func (p *Publisher) Close() error {
	return p.closeWatermillPublisher()
}
