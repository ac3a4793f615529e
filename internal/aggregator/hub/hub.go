// Package hub implements the Subscriber Hub: fan-out of persisted records
// and enrichment updates to SSE subscribers, with per-subscriber service
// filtering, a bounded outbound buffer per subscriber, and permanent
// disconnect on backpressure overflow.
package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/metrics"
	"github.com/opsentra/opsentra/internal/record"
)

// EventKind identifies the shape of a Frame's payload.
type EventKind string

const (
	EventKindRecord     EventKind = "record"
	EventKindEnrichment EventKind = "enrichment"
	EventKindHeartbeat  EventKind = "heartbeat"
)

// Frame is one SSE event delivered to a subscriber.
type Frame struct {
	Kind       EventKind          `json:"kind"`
	ID         string             `json:"id,omitempty"`
	Record     *record.Record     `json:"record,omitempty"`
	Enrichment *record.Enrichment `json:"enrichment,omitempty"`
}

const (
	defaultBufferSize       = 1000
	defaultHeartbeatIdleFor = 30 * time.Second
)

// Subscriber is one registered SSE client.
type Subscriber struct {
	ID      string
	Filter  string // service equality filter; empty matches everything
	send    chan Frame
	lastOut time.Time
}

// Send returns the read side of the subscriber's outbound channel, for the
// HTTP handler to range over while writing SSE frames.
func (s *Subscriber) Send() <-chan Frame {
	return s.send
}

// Hub maintains the set of active subscribers and fans out Frames to them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	register   chan *Subscriber
	unregister chan *Subscriber

	bufferSize       int
	heartbeatIdleFor time.Duration
	secLog           *logging.SecurityLogger
}

// Config holds the Subscriber Hub's tunables.
type Config struct {
	BufferSize       int
	HeartbeatIdleFor time.Duration
}

// NewHub constructs a Hub; subscribers are not fanned out to until Serve runs.
func NewHub(cfg Config, secLog *logging.SecurityLogger) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.HeartbeatIdleFor <= 0 {
		cfg.HeartbeatIdleFor = defaultHeartbeatIdleFor
	}
	return &Hub{
		subscribers:      make(map[string]*Subscriber),
		register:         make(chan *Subscriber),
		unregister:       make(chan *Subscriber),
		bufferSize:       cfg.BufferSize,
		heartbeatIdleFor: cfg.HeartbeatIdleFor,
		secLog:           secLog,
	}
}

// Register creates and registers a new subscriber with the given service
// filter, returning it so the caller can range over Send() and must call
// Unregister when the client disconnects.
func (h *Hub) Register(id, filter string) *Subscriber {
	sub := &Subscriber{
		ID:      id,
		Filter:  filter,
		send:    make(chan Frame, h.bufferSize),
		lastOut: time.Now(),
	}
	h.register <- sub
	return sub
}

// Unregister removes a subscriber from the hub.
func (h *Hub) Unregister(sub *Subscriber) {
	h.unregister <- sub
}

// Count returns the current number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// BroadcastRecord fans a newly persisted record out to matching
// subscribers. Implements internal/aggregator/consume.Hub. fanOut is
// synchronized on h.mu, so this is safe to call concurrently with Serve's
// own subscriber-lifecycle handling; the only sanctioned frame loss is a
// single overflowing subscriber's own buffer, never a hub-wide drop.
func (h *Hub) BroadcastRecord(id string, r record.Record) {
	h.fanOut(Frame{Kind: EventKindRecord, ID: id, Record: &r})
}

// BroadcastEnrichment fans an enrichment update out to all subscribers
// (enrichment events are not service-filtered, since the identifier alone
// does not carry the service name). Implements
// internal/aggregator/consume.Hub.
func (h *Hub) BroadcastEnrichment(e record.Enrichment) {
	h.fanOut(Frame{Kind: EventKindEnrichment, ID: e.RecordID, Enrichment: &e})
}

// Serve implements suture.Service. It owns subscriber lifecycle and
// fan-out until ctx is canceled.
func (h *Hub) Serve(ctx context.Context) error {
	heartbeat := time.NewTicker(h.heartbeatIdleFor)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll("shutdown")
			return ctx.Err()
		case sub := <-h.register:
			h.addSubscriber(sub)
		case sub := <-h.unregister:
			h.removeSubscriber(sub, "client_closed")
		case <-heartbeat.C:
			h.sendHeartbeats()
		}
	}
}

func (h *Hub) addSubscriber(sub *Subscriber) {
	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	count := len(h.subscribers)
	h.mu.Unlock()
	metrics.SubscriberCount.Set(float64(count))
	if h.secLog != nil {
		h.secLog.LogSubscriberConnected(sub.ID, sub.Filter, "", "")
	}
}

func (h *Hub) removeSubscriber(sub *Subscriber, reason string) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub.ID]; ok {
		delete(h.subscribers, sub.ID)
		close(sub.send)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	metrics.SubscriberCount.Set(float64(count))
	metrics.RecordSubscriberDisconnect(reason)
	if h.secLog != nil {
		h.secLog.LogSubscriberDisconnected(sub.ID, reason)
	}
}

// fanOut delivers frame to every matching subscriber in deterministic
// (sorted-by-id) order, disconnecting any subscriber whose outbound
// buffer is full.
func (h *Hub) fanOut(frame Frame) {
	start := time.Now()
	defer func() { metrics.SubscriberBroadcastDuration.Observe(time.Since(start).Seconds()) }()

	h.mu.Lock()
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var overflowed []*Subscriber
	for _, id := range ids {
		sub := h.subscribers[id]
		if frame.Kind == EventKindRecord && sub.Filter != "" && frame.Record != nil && frame.Record.Service != sub.Filter {
			continue
		}
		select {
		case sub.send <- frame:
			sub.lastOut = time.Now()
		default:
			overflowed = append(overflowed, sub)
		}
	}

	for _, sub := range overflowed {
		delete(h.subscribers, sub.ID)
		close(sub.send)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if len(overflowed) > 0 {
		metrics.SubscriberCount.Set(float64(count))
		for _, sub := range overflowed {
			metrics.RecordSubscriberDisconnect("backpressure_overflow")
			if h.secLog != nil {
				h.secLog.LogSubscriberDisconnected(sub.ID, "backpressure_overflow")
			}
		}
	}
}

func (h *Hub) sendHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := time.Now().Add(-h.heartbeatIdleFor)
	for _, sub := range h.subscribers {
		if sub.lastOut.After(cutoff) {
			continue
		}
		select {
		case sub.send <- Frame{Kind: EventKindHeartbeat}:
			sub.lastOut = time.Now()
		default:
		}
	}
}

func (h *Hub) closeAll(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sub := h.subscribers[id]
		close(sub.send)
		delete(h.subscribers, id)
		metrics.RecordSubscriberDisconnect(reason)
	}
	metrics.SubscriberCount.Set(0)
}
