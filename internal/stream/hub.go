// Package stream fans trade events and anomalies out to in-process
// consumers and live subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"zerodha-strategy/internal/models"
)

// EventType identifies the payload of an Event.
type EventType string

const (
	EventTrade   EventType = "trade"
	EventAnomaly EventType = "anomaly"
)

// Event is one published trade event or anomaly.
type Event struct {
	Seq     uint64             `json:"seq"`
	Type    EventType          `json:"type"`
	Trade   *models.TradeEvent `json:"trade,omitempty"`
	Anomaly *models.Anomaly    `json:"anomaly,omitempty"`
}

// Token returns the instrument the event refers to.
func (e Event) Token() uint32 {
	switch {
	case e.Trade != nil:
		return e.Trade.Token
	case e.Anomaly != nil:
		return e.Anomaly.Token
	default:
		return 0
	}
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Consumer receives every event synchronously, in publish order, before
// any subscriber sees it. Consumers must not block for long; the journal
// and metrics are consumers, remote delivery belongs behind a queue.
type Consumer interface {
	OnTrade(ev models.TradeEvent)
	OnAnomaly(a models.Anomaly)
}

// Hub distributes events. Consumers are called inline; subscribers read
// from buffered channels fed by a broadcast goroutine and lose events
// when they fall behind instead of stalling the publisher.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	events      chan Event
	done        chan struct{}
	started     bool
	consumers   []Consumer
	consumersMu sync.RWMutex

	// publishMu keeps sequence numbers in channel order.
	publishMu sync.Mutex
	seq       uint64

	eventsReceived  uint64
	eventsBroadcast uint64
	eventsDropped   uint64
	metricsMu       sync.RWMutex
}

// Subscriber is a live event channel with an optional token filter.
type Subscriber struct {
	ID           string
	Channel      chan Event
	Tokens       map[uint32]bool
	DroppedCount int
	CreatedAt    time.Time
}

func (s *Subscriber) wants(ev Event) bool {
	return len(s.Tokens) == 0 || s.Tokens[ev.Token()]
}

// NewHub creates a new hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string]*Subscriber),
		events:      make(chan Event, config.BufferSize),
		done:        make(chan struct{}),
		consumers:   make([]Consumer, 0),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.done = make(chan struct{})

	go h.broadcastLoop(ctx, h.done)
}

func (h *Hub) broadcastLoop(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev := <-h.events:
			h.metricsMu.Lock()
			h.eventsReceived++
			h.metricsMu.Unlock()

			h.broadcast(ev)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	close(h.done)
	h.started = false

	for id, sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// RegisterConsumer adds a synchronous consumer.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

// OnTrade publishes a trade event.
func (h *Hub) OnTrade(ev models.TradeEvent) {
	h.publish(Event{Type: EventTrade, Trade: &ev})
}

// OnAnomaly publishes an anomaly.
func (h *Hub) OnAnomaly(a models.Anomaly) {
	h.publish(Event{Type: EventAnomaly, Anomaly: &a})
}

func (h *Hub) publish(ev Event) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.seq++
	ev.Seq = h.seq

	h.notifyConsumers(ev)

	select {
	case h.events <- ev:
	default:
		h.metricsMu.Lock()
		h.eventsDropped++
		h.metricsMu.Unlock()
	}
}

func (h *Hub) notifyConsumers(ev Event) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, c := range consumers {
		switch ev.Type {
		case EventTrade:
			c.OnTrade(*ev.Trade)
		case EventAnomaly:
			c.OnAnomaly(*ev.Anomaly)
		}
	}
}

// Subscribe registers a live subscriber. With no tokens it receives
// every event. Subscribing an existing id replaces it.
func (h *Hub) Subscribe(id string, tokens ...uint32) <-chan Event {
	ch := make(chan Event, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	}
	if len(tokens) > 0 {
		sub.Tokens = make(map[uint32]bool, len(tokens))
		for _, t := range tokens {
			sub.Tokens[t] = true
		}
	}

	h.mu.Lock()
	if old, ok := h.subscribers[id]; ok {
		close(old.Channel)
	}
	h.subscribers[id] = sub
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// broadcast sends without blocking; the read lock keeps Stop and
// Unsubscribe from closing a channel mid-send.
func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.Channel <- ev:
			h.metricsMu.Lock()
			h.eventsBroadcast++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.eventsDropped++
			h.metricsMu.Unlock()
		}
	}
}

// GetSubscriberCount returns the number of live subscribers.
func (h *Hub) GetSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	subs := h.GetSubscriberCount()

	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()

	return HubMetrics{
		EventsReceived:  h.eventsReceived,
		EventsBroadcast: h.eventsBroadcast,
		EventsDropped:   h.eventsDropped,
		Subscribers:     subs,
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	EventsReceived  uint64
	EventsBroadcast uint64
	EventsDropped   uint64
	Subscribers     int
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}
