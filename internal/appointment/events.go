package appointment

import "context"

type BookingEventKind string

const (
	BookingCreated       BookingEventKind = "created"
	BookingStatusChanged BookingEventKind = "status_changed"
)

// BookingEvent is emitted after a booking is committed or changes status.
type BookingEvent struct {
	Kind          BookingEventKind
	Booking       Booking
	Block         Block
	OpenPositions int
}

// EventPublisher receives booking events. Implementations must not block;
// they are called after the block lock is released.
type EventPublisher interface {
	PublishBooking(ctx context.Context, ev BookingEvent)
}

type noopPublisher struct{}

func (noopPublisher) PublishBooking(context.Context, BookingEvent) {}
