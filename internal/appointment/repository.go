package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlockNotFound   = errors.New("block not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrClinicNotFound  = errors.New("clinic or doctor not found")
)

// Repository contains all storage interactions needed by the arbiter.
// Callers serialize writes per block; implementations still enforce
// uniqueness of (block, occupied time) among non-cancelled bookings.
type Repository interface {
	CreateBlock(ctx context.Context, b Block) (*Block, error)
	GetBlockByID(ctx context.Context, id uuid.UUID) (*Block, error)
	ListBlocksByScope(ctx context.Context, scope Scope) ([]Block, error)
	UpdateBlockStatus(ctx context.Context, id uuid.UUID, to BlockStatus) (*Block, error)
	UpdateBlockGeometry(ctx context.Context, id uuid.UUID, start, end time.Time, capacity int) (*Block, error)

	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListBookingsByBlock(ctx context.Context, blockID uuid.UUID) ([]Booking, error)
	ListBookingsByScope(ctx context.Context, scope Scope) ([]Booking, error)

	// InsertBooking stores b with the next token number of its block and
	// bumps the block's booking counter in the same transaction.
	InsertBooking(ctx context.Context, b Booking) (*Booking, *Block, error)
	// UpdateBookingStatus moves a booking from one status to another and
	// keeps the block counter in step when the booking is cancelled.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, *Block, error)

	// No-show sweep
	FindStaleBookings(ctx context.Context, endedBefore time.Time) ([]Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Directory resolves master data echoed into booking confirmations.
type Directory interface {
	ConfirmationDetails(ctx context.Context, clinicID, doctorID uuid.UUID) (*Confirmation, error)
}
