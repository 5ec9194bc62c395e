package appointment

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the civil date format used for block and queue scopes.
const DateLayout = "2006-01-02"

type BlockStatus string

const (
	BlockAvailable BlockStatus = "available"
	BlockBooked    BlockStatus = "booked"
	BlockCompleted BlockStatus = "completed"
	BlockCancelled BlockStatus = "cancelled"
)

// Open reports whether new bookings may still be placed on a block in this status.
func (s BlockStatus) Open() bool {
	return s == BlockAvailable || s == BlockBooked
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
	StatusNoShow    BookingStatus = "no_show"
)

// Terminal reports whether no further status change is allowed.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether a booking may move from one status to another.
// Statuses only move forward; terminal statuses never change.
func CanTransition(from, to BookingStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCompleted || to == StatusCancelled || to == StatusNoShow
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled || to == StatusNoShow
	}
	return false
}

// Scope identifies one doctor's day at one clinic.
type Scope struct {
	ClinicID uuid.UUID
	DoctorID uuid.UUID
	Date     string
}

func (s Scope) String() string {
	return s.ClinicID.String() + ":" + s.DoctorID.String() + ":" + s.Date
}

// Block is a bookable time window split into Capacity equal positions.
type Block struct {
	ID              uuid.UUID
	ClinicID        uuid.UUID
	DoctorID        uuid.UUID
	Date            string
	StartTime       time.Time
	EndTime         time.Time
	Capacity        int
	CurrentBookings int
	Status          BlockStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *Block) Scope() Scope {
	return Scope{ClinicID: b.ClinicID, DoctorID: b.DoctorID, Date: b.Date}
}

type NewBlock struct {
	ClinicID  uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Capacity  int
}

type Patient struct {
	Name   string
	Phone  string
	Age    int
	Gender string
}

// Booking is a token appointment that permanently claims one position of its block.
type Booking struct {
	ID            uuid.UUID
	BlockID       uuid.UUID
	ClinicID      uuid.UUID
	DoctorID      uuid.UUID
	Date          string
	Patient       Patient
	TokenNumber   int
	PositionIndex int
	OccupiedTime  time.Time
	Status        BookingStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Confirmation carries master data echoed back with a new booking.
type Confirmation struct {
	ClinicName      string
	ClinicLocation  string
	DoctorName      string
	ConsultationFee float64
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	BlockID   *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
