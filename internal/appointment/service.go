package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/lock"
	"github.com/hackgods/clinic-queue-scheduling/internal/telemetry"
)

const (
	EventBookingCreated       = "BOOKING_CREATED"
	EventBookingStatusChanged = "BOOKING_STATUS_CHANGED"
	EventBlockCreated         = "BLOCK_CREATED"
	EventBlockStatusChanged   = "BLOCK_STATUS_CHANGED"
	EventBlockGeometryChanged = "BLOCK_GEOMETRY_CHANGED"
)

var (
	ErrSlotTaken               = errors.New("this slot was just taken, please choose another")
	ErrBlockClosed             = errors.New("block is closed for booking")
	ErrGeometryFrozen          = errors.New("block geometry cannot change once bookings exist")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrTransient               = errors.New("temporarily unavailable, please retry")
)

type Service struct {
	repo      Repository
	locker    lock.Locker
	publisher EventPublisher
	directory Directory
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithDirectory(d Directory) Option {
	return func(s *Service) { s.directory = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker lock.Locker, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		locker:    locker,
		publisher: noopPublisher{},
		logger:    logger.With().Str("component", "booking_arbiter").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book claims the position of blockID that starts at positionStart.
// The availability check and the insert run under the block's lock so that
// concurrent requests for the same position cannot both succeed.
func (s *Service) Book(ctx context.Context, blockID uuid.UUID, positionStart time.Time, patient Patient) (*Booking, error) {
	patient.Name = strings.TrimSpace(patient.Name)
	patient.Phone = strings.TrimSpace(patient.Phone)
	patient.Gender = strings.ToLower(strings.TrimSpace(patient.Gender))
	if err := validatePatient(patient); err != nil {
		telemetry.BookingsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	block, err := s.repo.GetBlockByID(ctx, blockID)
	if err != nil {
		return nil, fmt.Errorf("load block: %w", err)
	}
	if !block.Status.Open() {
		telemetry.BookingsTotal.WithLabelValues("closed").Inc()
		return nil, ErrBlockClosed
	}

	var (
		created *Booking
		updated *Block
		open    int
	)

	err = s.locker.WithLock(ctx, lock.BlockKey(blockID.String()), func(lockCtx context.Context) error {
		// Re-read inside the critical section; the block may have closed or
		// been re-shaped since the pre-check.
		current, err := s.repo.GetBlockByID(lockCtx, blockID)
		if err != nil {
			return fmt.Errorf("reload block: %w", err)
		}
		if !current.Status.Open() {
			return ErrBlockClosed
		}

		index, ok := IndexOf(current, positionStart)
		if !ok {
			return &ValidationError{Field: "start_time", Message: "is not a position of this block"}
		}

		existing, err := s.repo.ListBookingsByBlock(lockCtx, blockID)
		if err != nil {
			return fmt.Errorf("list block bookings: %w", err)
		}
		booked := occupiedTimes(existing)
		positions := Availability(current, booked)
		if positions[index].Taken {
			return ErrSlotTaken
		}

		now := s.now()
		bk, blk, err := s.repo.InsertBooking(lockCtx, Booking{
			ID:            uuid.New(),
			BlockID:       blockID,
			ClinicID:      current.ClinicID,
			DoctorID:      current.DoctorID,
			Date:          current.Date,
			Patient:       patient,
			PositionIndex: index,
			OccupiedTime:  positions[index].StartTime,
			Status:        StatusConfirmed,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return err
			}
			return fmt.Errorf("insert booking: %w", err)
		}

		created, updated = bk, blk
		open = len(OpenPositions(blk, append(booked, bk.OccupiedTime)))
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			telemetry.BookingsTotal.WithLabelValues("transient").Inc()
			return nil, fmt.Errorf("block %s busy: %w", blockID, ErrTransient)
		case errors.Is(err, ErrSlotTaken):
			telemetry.BookingsTotal.WithLabelValues("slot_taken").Inc()
		case errors.Is(err, ErrBlockClosed):
			telemetry.BookingsTotal.WithLabelValues("closed").Inc()
		case errors.Is(err, ErrValidation):
			telemetry.BookingsTotal.WithLabelValues("invalid").Inc()
		default:
			telemetry.BookingsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	telemetry.BookingsTotal.WithLabelValues("created").Inc()

	s.logEvent(ctx, &created.ID, &created.BlockID, EventBookingCreated, map[string]any{
		"token_number":  created.TokenNumber,
		"occupied_time": created.OccupiedTime,
		"position":      created.PositionIndex,
	})
	s.publisher.PublishBooking(ctx, BookingEvent{
		Kind:          BookingCreated,
		Booking:       *created,
		Block:         *updated,
		OpenPositions: open,
	})

	s.logger.Info().
		Str("block_id", blockID.String()).
		Str("booking_id", created.ID.String()).
		Int("token", created.TokenNumber).
		Time("occupied_time", created.OccupiedTime).
		Msg("booking created")

	return created, nil
}

// UpdateBookingStatus moves a booking forward through its lifecycle.
// Setting the status it already has is a no-op.
func (s *Service) UpdateBookingStatus(ctx context.Context, id uuid.UUID, to BookingStatus) (*Booking, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Message: "is not a booking status"}
	}

	bk, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}

	var (
		updated *Booking
		block   *Block
		changed bool
	)

	err = s.locker.WithLock(ctx, lock.BlockKey(bk.BlockID.String()), func(lockCtx context.Context) error {
		current, err := s.repo.GetBookingByID(lockCtx, id)
		if err != nil {
			return fmt.Errorf("reload booking: %w", err)
		}
		if current.Status == to {
			updated = current
			return nil
		}
		if !CanTransition(current.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, current.Status, to)
		}

		updated, block, err = s.repo.UpdateBookingStatus(lockCtx, id, current.Status, to)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("block %s busy: %w", bk.BlockID, ErrTransient)
		}
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	telemetry.BookingStatusChanges.WithLabelValues(string(to)).Inc()
	s.logEvent(ctx, &updated.ID, &updated.BlockID, EventBookingStatusChanged, map[string]any{
		"from": bk.Status,
		"to":   to,
	})

	open := 0
	if bookings, err := s.repo.ListBookingsByBlock(ctx, block.ID); err == nil {
		open = len(OpenPositions(block, occupiedTimes(bookings)))
	}
	s.publisher.PublishBooking(ctx, BookingEvent{
		Kind:          BookingStatusChanged,
		Booking:       *updated,
		Block:         *block,
		OpenPositions: open,
	})

	return updated, nil
}

// CompleteBooking marks a booking completed. Completing an already
// completed booking succeeds without change.
func (s *Service) CompleteBooking(ctx context.Context, id uuid.UUID) error {
	_, err := s.UpdateBookingStatus(ctx, id, StatusCompleted)
	return err
}

// MarkNoShows sweeps bookings still waiting on blocks that ended before
// endedBefore and marks them no-show. It returns how many were updated.
func (s *Service) MarkNoShows(ctx context.Context, endedBefore time.Time) (int, error) {
	stale, err := s.repo.FindStaleBookings(ctx, endedBefore)
	if err != nil {
		return 0, fmt.Errorf("find stale bookings: %w", err)
	}

	marked := 0
	for _, bk := range stale {
		if _, err := s.UpdateBookingStatus(ctx, bk.ID, StatusNoShow); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", bk.ID.String()).Msg("failed to mark no-show")
			continue
		}
		marked++
	}
	return marked, nil
}

func (s *Service) CreateBlock(ctx context.Context, nb NewBlock) (*Block, error) {
	if nb.ClinicID == uuid.Nil {
		return nil, &ValidationError{Field: "clinic_id", Message: "is required"}
	}
	if nb.DoctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctor_id", Message: "is required"}
	}
	if err := validateGeometry(nb.StartTime, nb.EndTime, nb.Capacity); err != nil {
		return nil, err
	}

	now := s.now()
	block, err := s.repo.CreateBlock(ctx, Block{
		ID:        uuid.New(),
		ClinicID:  nb.ClinicID,
		DoctorID:  nb.DoctorID,
		Date:      nb.StartTime.Format(DateLayout),
		StartTime: nb.StartTime,
		EndTime:   nb.EndTime,
		Capacity:  nb.Capacity,
		Status:    BlockAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}

	s.logEvent(ctx, nil, &block.ID, EventBlockCreated, map[string]any{
		"capacity": block.Capacity,
		"start":    block.StartTime,
		"end":      block.EndTime,
	})
	return block, nil
}

func (s *Service) GetBlock(ctx context.Context, id uuid.UUID) (*Block, error) {
	block, err := s.repo.GetBlockByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	return block, nil
}

func (s *Service) ListBlocksForScope(ctx context.Context, scope Scope) ([]Block, error) {
	blocks, err := s.repo.ListBlocksByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}

// UpdateBlockStatus closes a block as completed or cancelled.
func (s *Service) UpdateBlockStatus(ctx context.Context, id uuid.UUID, to BlockStatus) (*Block, error) {
	if to != BlockCompleted && to != BlockCancelled {
		return nil, &ValidationError{Field: "status", Message: "must be completed or cancelled"}
	}

	var updated *Block
	err := s.locker.WithLock(ctx, lock.BlockKey(id.String()), func(lockCtx context.Context) error {
		current, err := s.repo.GetBlockByID(lockCtx, id)
		if err != nil {
			return fmt.Errorf("load block: %w", err)
		}
		if current.Status == to {
			updated = current
			return nil
		}
		if !current.Status.Open() {
			return ErrBlockClosed
		}
		updated, err = s.repo.UpdateBlockStatus(lockCtx, id, to)
		return err
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("block %s busy: %w", id, ErrTransient)
		}
		return nil, err
	}

	s.logEvent(ctx, nil, &id, EventBlockStatusChanged, map[string]any{"to": to})
	return updated, nil
}

// UpdateBlockGeometry reshapes a block. Once any live booking exists the
// geometry is frozen, since existing occupied times would change meaning.
func (s *Service) UpdateBlockGeometry(ctx context.Context, id uuid.UUID, start, end time.Time, capacity int) (*Block, error) {
	if err := validateGeometry(start, end, capacity); err != nil {
		return nil, err
	}

	var updated *Block
	err := s.locker.WithLock(ctx, lock.BlockKey(id.String()), func(lockCtx context.Context) error {
		current, err := s.repo.GetBlockByID(lockCtx, id)
		if err != nil {
			return fmt.Errorf("load block: %w", err)
		}
		if !current.Status.Open() {
			return ErrBlockClosed
		}
		if start.Format(DateLayout) != current.Date {
			return &ValidationError{Field: "start_time", Message: "must stay on the block's date"}
		}
		bookings, err := s.repo.ListBookingsByBlock(lockCtx, id)
		if err != nil {
			return fmt.Errorf("list block bookings: %w", err)
		}
		if len(occupiedTimes(bookings)) > 0 {
			return ErrGeometryFrozen
		}
		updated, err = s.repo.UpdateBlockGeometry(lockCtx, id, start, end, capacity)
		return err
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("block %s busy: %w", id, ErrTransient)
		}
		return nil, err
	}

	s.logEvent(ctx, nil, &id, EventBlockGeometryChanged, map[string]any{
		"capacity": capacity,
		"start":    start,
		"end":      end,
	})
	return updated, nil
}

// GetAvailability returns every position of the block annotated with
// whether it is taken.
func (s *Service) GetAvailability(ctx context.Context, blockID uuid.UUID) (*Block, []Position, error) {
	block, err := s.repo.GetBlockByID(ctx, blockID)
	if err != nil {
		return nil, nil, fmt.Errorf("load block: %w", err)
	}
	bookings, err := s.repo.ListBookingsByBlock(ctx, blockID)
	if err != nil {
		return nil, nil, fmt.Errorf("list block bookings: %w", err)
	}
	return block, Availability(block, occupiedTimes(bookings)), nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	bk, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return bk, nil
}

// ListBookingsForScope returns every booking of a doctor's day, ordered by
// occupied time and then booking id.
func (s *Service) ListBookingsForScope(ctx context.Context, scope Scope) ([]Booking, error) {
	bookings, err := s.repo.ListBookingsByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list scope bookings: %w", err)
	}
	SortBookings(bookings)
	return bookings, nil
}

// Confirmation looks up the master data echoed with a booking. Lookup
// failures are logged and yield nil.
func (s *Service) Confirmation(ctx context.Context, bk *Booking) *Confirmation {
	if s.directory == nil {
		return nil
	}
	c, err := s.directory.ConfirmationDetails(ctx, bk.ClinicID, bk.DoctorID)
	if err != nil {
		s.logger.Debug().Err(err).Str("booking_id", bk.ID.String()).Msg("confirmation details unavailable")
		return nil
	}
	return c
}

// SortBookings orders bookings by occupied time, ties by id.
func SortBookings(bookings []Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if !a.OccupiedTime.Equal(b.OccupiedTime) {
			return a.OccupiedTime.Before(b.OccupiedTime)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}

func (s *Service) logEvent(ctx context.Context, bookingID, blockID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		BookingID: bookingID,
		BlockID:   blockID,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to insert event log")
	}
}
