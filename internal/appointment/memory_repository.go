package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used for single-node
// development and tests. It enforces the same uniqueness rules as the
// Postgres schema.
type MemoryRepository struct {
	mu       sync.RWMutex
	blocks   map[uuid.UUID]Block
	bookings map[uuid.UUID]Booking
	events   []EventLog
	nextEvID int64
	details  map[[2]uuid.UUID]Confirmation
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		blocks:   make(map[uuid.UUID]Block),
		bookings: make(map[uuid.UUID]Booking),
		details:  make(map[[2]uuid.UUID]Confirmation),
		now:      time.Now,
	}
}

func (r *MemoryRepository) CreateBlock(_ context.Context, b Block) (*Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[b.ID] = b
	return &b, nil
}

func (r *MemoryRepository) GetBlockByID(_ context.Context, id uuid.UUID) (*Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blocks[id]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return &b, nil
}

func (r *MemoryRepository) ListBlocksByScope(_ context.Context, scope Scope) ([]Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Block
	for _, b := range r.blocks {
		if b.ClinicID == scope.ClinicID && b.DoctorID == scope.DoctorID && b.Date == scope.Date {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (r *MemoryRepository) UpdateBlockStatus(_ context.Context, id uuid.UUID, to BlockStatus) (*Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[id]
	if !ok {
		return nil, ErrBlockNotFound
	}
	b.Status = to
	b.UpdatedAt = r.now()
	r.blocks[id] = b
	return &b, nil
}

func (r *MemoryRepository) UpdateBlockGeometry(_ context.Context, id uuid.UUID, start, end time.Time, capacity int) (*Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[id]
	if !ok {
		return nil, ErrBlockNotFound
	}
	b.StartTime, b.EndTime, b.Capacity = start, end, capacity
	b.UpdatedAt = r.now()
	r.blocks[id] = b
	return &b, nil
}

func (r *MemoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bk, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &bk, nil
}

func (r *MemoryRepository) ListBookingsByBlock(_ context.Context, blockID uuid.UUID) ([]Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Booking
	for _, bk := range r.bookings {
		if bk.BlockID == blockID {
			out = append(out, bk)
		}
	}
	SortBookings(out)
	return out, nil
}

func (r *MemoryRepository) ListBookingsByScope(_ context.Context, scope Scope) ([]Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Booking
	for _, bk := range r.bookings {
		if bk.ClinicID == scope.ClinicID && bk.DoctorID == scope.DoctorID && bk.Date == scope.Date {
			out = append(out, bk)
		}
	}
	SortBookings(out)
	return out, nil
}

func (r *MemoryRepository) InsertBooking(_ context.Context, b Booking) (*Booking, *Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.blocks[b.BlockID]
	if !ok {
		return nil, nil, ErrBlockNotFound
	}

	maxToken := 0
	for _, existing := range r.bookings {
		if existing.BlockID != b.BlockID {
			continue
		}
		if existing.TokenNumber > maxToken {
			maxToken = existing.TokenNumber
		}
		if existing.Status != StatusCancelled && minuteKey(existing.OccupiedTime) == minuteKey(b.OccupiedTime) {
			return nil, nil, ErrSlotTaken
		}
	}

	b.TokenNumber = maxToken + 1
	r.bookings[b.ID] = b

	block.CurrentBookings++
	if block.Status == BlockAvailable {
		block.Status = BlockBooked
	}
	block.UpdatedAt = r.now()
	r.blocks[block.ID] = block

	return &b, &block, nil
}

func (r *MemoryRepository) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, *Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bk, ok := r.bookings[id]
	if !ok || bk.Status != from {
		return nil, nil, ErrBookingNotFound
	}
	block, ok := r.blocks[bk.BlockID]
	if !ok {
		return nil, nil, ErrBlockNotFound
	}

	bk.Status = to
	bk.UpdatedAt = r.now()
	r.bookings[id] = bk

	if to == StatusCancelled {
		block.CurrentBookings--
		if block.CurrentBookings == 0 && block.Status == BlockBooked {
			block.Status = BlockAvailable
		}
		block.UpdatedAt = r.now()
		r.blocks[block.ID] = block
	}

	return &bk, &block, nil
}

func (r *MemoryRepository) FindStaleBookings(_ context.Context, endedBefore time.Time) ([]Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Booking
	for _, bk := range r.bookings {
		if bk.Status != StatusPending && bk.Status != StatusConfirmed {
			continue
		}
		if block, ok := r.blocks[bk.BlockID]; ok && block.EndTime.Before(endedBefore) {
			out = append(out, bk)
		}
	}
	SortBookings(out)
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEvID++
	ev.ID = r.nextEvID
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

// SetConfirmationDetails registers master data for a clinic and doctor pair.
func (r *MemoryRepository) SetConfirmationDetails(clinicID, doctorID uuid.UUID, c Confirmation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details[[2]uuid.UUID{clinicID, doctorID}] = c
}

func (r *MemoryRepository) ConfirmationDetails(_ context.Context, clinicID, doctorID uuid.UUID) (*Confirmation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.details[[2]uuid.UUID{clinicID, doctorID}]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return &c, nil
}

func sortBlocks(blocks []Block) {
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].StartTime.Before(blocks[j].StartTime)
	})
}
