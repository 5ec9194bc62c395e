package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
)

// Cursor is the durable part of a queue. The ordered entries are always
// rebuilt from bookings; only who is being served and whether the doctor is
// running survive a restart.
type Cursor struct {
	ServingBookingID *uuid.UUID       `json:"serving_booking_id,omitempty"`
	Running          bool             `json:"running"`
	Version          int64            `json:"version"`
	ClientSeqs       map[string]int64 `json:"client_seqs,omitempty"`
}

// CursorStore persists cursors per scope. Load returns a zero Cursor when
// none was saved.
type CursorStore interface {
	Load(ctx context.Context, scope appointment.Scope) (Cursor, error)
	Save(ctx context.Context, scope appointment.Scope, c Cursor) error
}

type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]Cursor
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]Cursor)}
}

func (s *MemoryCursorStore) Load(_ context.Context, scope appointment.Scope) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[scope.String()].clone(), nil
}

func (s *MemoryCursorStore) Save(_ context.Context, scope appointment.Scope, c Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[scope.String()] = c.clone()
	return nil
}

func (c Cursor) clone() Cursor {
	if c.ServingBookingID != nil {
		id := *c.ServingBookingID
		c.ServingBookingID = &id
	}
	if c.ClientSeqs != nil {
		seqs := make(map[string]int64, len(c.ClientSeqs))
		for k, v := range c.ClientSeqs {
			seqs[k] = v
		}
		c.ClientSeqs = seqs
	}
	return c
}
