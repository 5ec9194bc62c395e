package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
)

// CursorStore keeps queue cursors as JSON strings so that any node can pick
// up a scope after a restart.
type CursorStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCursorStore(client *redis.Client, ttl time.Duration) *CursorStore {
	return &CursorStore{client: client, ttl: ttl}
}

func cursorKey(scope appointment.Scope) string {
	return "queue:cursor:" + scope.String()
}

func (s *CursorStore) Load(ctx context.Context, scope appointment.Scope) (queue.Cursor, error) {
	raw, err := s.client.Get(ctx, cursorKey(scope)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return queue.Cursor{}, nil
		}
		return queue.Cursor{}, fmt.Errorf("get cursor: %w", err)
	}

	var c queue.Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return queue.Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}

func (s *CursorStore) Save(ctx context.Context, scope appointment.Scope, c queue.Cursor) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := s.client.Set(ctx, cursorKey(scope), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
