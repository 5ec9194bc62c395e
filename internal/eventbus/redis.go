// Package eventbus relays gateway events between nodes over Redis pub/sub so
// a client joined on one node sees changes made through another.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/gateway"
)

const DefaultChannel = "clinic:gateway:events"

// Sink receives events that originated on other nodes.
type Sink interface {
	Deliver(ev gateway.Event)
}

// RedisRelay implements gateway.Relay.
type RedisRelay struct {
	client  *redis.Client
	channel string
	nodeID  string
	logger  zerolog.Logger

	mu        sync.Mutex
	failCount int
}

// redisMessage is what goes over the wire.
type redisMessage struct {
	Event     gateway.Event `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
	NodeID    string        `json:"node_id"`
}

func NewRedisRelay(client *redis.Client, nodeID string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: DefaultChannel,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "eventbus").Str("node_id", nodeID).Logger(),
	}
}

// Forward publishes ev for the other nodes. Failures are logged; local
// subscribers already have the event.
func (rb *RedisRelay) Forward(ctx context.Context, ev gateway.Event) {
	data, err := marshalMessage(ev, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal relay message")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(pubCtx, rb.channel, data).Err(); err != nil {
		rb.mu.Lock()
		rb.failCount++
		fails := rb.failCount
		rb.mu.Unlock()
		rb.logger.Error().Err(err).Int("fail_count", fails).Str("event_type", string(ev.Type)).Msg("failed to publish to Redis")
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Run subscribes to the relay channel and hands remote events to sink until
// ctx is cancelled.
func (rb *RedisRelay) Run(ctx context.Context, sink Sink) error {
	pubsub := rb.client.Subscribe(ctx, rb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", rb.channel, err)
	}

	ch := pubsub.Channel()
	rb.logger.Info().Str("channel", rb.channel).Msg("started Redis relay receiver")

	for {
		select {
		case <-ctx.Done():
			rb.logger.Debug().Msg("stopping Redis relay receiver")
			return nil

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis channel %s closed", rb.channel)
			}
			rb.handle(sink, []byte(msg.Payload))
		}
	}
}

func (rb *RedisRelay) handle(sink Sink, payload []byte) {
	m, err := unmarshalMessage(payload)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to unmarshal relay message")
		return
	}

	// Skip our own messages; local subscribers were served directly.
	if m.NodeID == rb.nodeID {
		return
	}

	sink.Deliver(m.Event)

	rb.logger.Debug().
		Str("event_type", string(m.Event.Type)).
		Str("source_node", m.NodeID).
		Msg("delivered relayed event")
}

func marshalMessage(ev gateway.Event, nodeID string) ([]byte, error) {
	return json.Marshal(redisMessage{
		Event:     ev,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	})
}

func unmarshalMessage(data []byte) (*redisMessage, error) {
	var msg redisMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal redis message: %w", err)
	}
	return &msg, nil
}
