package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/telemetry"
)

const defaultBuffer = 64

// Relay carries locally originated events to the other nodes.
type Relay interface {
	Forward(ctx context.Context, ev Event)
}

// Hub tracks subscriptions per channel. Delivery never blocks: a subscriber
// whose buffer is full loses the event and is asked to resync instead.
type Hub struct {
	mu     sync.RWMutex
	subs   map[ChannelKey]map[*Subscription]struct{}
	buffer int
	relay  Relay
	logger zerolog.Logger
	now    func() time.Time
}

type HubOption func(*Hub)

func WithBuffer(n int) HubOption {
	return func(h *Hub) { h.buffer = n }
}

func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

func NewHub(logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		subs:   make(map[ChannelKey]map[*Subscription]struct{}),
		buffer: defaultBuffer,
		logger: logger.With().Str("component", "gateway").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is one client's attachment to a channel. It must be closed
// when the client goes away.
type Subscription struct {
	key    ChannelKey
	hub    *Hub
	events chan Event
	resync chan struct{}
	once   sync.Once
}

func (s *Subscription) Key() ChannelKey { return s.key }

// Events is closed when the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.events }

// Resync fires after events were dropped; the client should fetch a fresh
// snapshot.
func (s *Subscription) Resync() <-chan struct{} { return s.resync }

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.leave(s) })
}

func (h *Hub) Join(key ChannelKey) *Subscription {
	sub := &Subscription{
		key:    key,
		hub:    h,
		events: make(chan Event, h.buffer),
		resync: make(chan struct{}, 1),
	}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*Subscription]struct{})
	}
	h.subs[key][sub] = struct{}{}
	h.mu.Unlock()

	telemetry.GatewaySubscribers.Inc()
	h.logger.Debug().Str("channel", key.String()).Msg("subscriber joined")
	return sub
}

func (h *Hub) leave(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.key)
		}
	}
	close(sub.events)
	h.mu.Unlock()

	telemetry.GatewaySubscribers.Dec()
	h.logger.Debug().Str("channel", sub.key.String()).Msg("subscriber left")
}

// Subscribers returns how many clients are joined on key.
func (h *Hub) Subscribers(key ChannelKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// Deliver fans ev out to local subscribers only.
func (h *Hub) Deliver(ev Event) {
	key := ev.Key()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[key] {
		select {
		case sub.events <- ev:
		default:
			telemetry.GatewayDropped.Inc()
			select {
			case sub.resync <- struct{}{}:
			default:
			}
		}
	}
}

// Publish delivers ev locally and hands it to the relay.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.Deliver(ev)
	if h.relay != nil {
		h.relay.Forward(ctx, ev)
	}
}

func (h *Hub) PublishBooking(ctx context.Context, ev appointment.BookingEvent) {
	h.Publish(ctx, bookingEvent(ev, h.now()))
}

func (h *Hub) PublishQueue(ctx context.Context, t queue.Transition) {
	h.Publish(ctx, queueEvent(t, h.now()))
}
