// Package gateway fans booking and queue changes out to clients joined on a
// (clinic, doctor) channel and feeds their queue commands back in.
package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
)

type EventType string

const (
	EventBookingChanged EventType = "booking_changed"
	EventQueueControl   EventType = "queue_control"
	EventSnapshot       EventType = "snapshot"
	EventCommandResult  EventType = "command_result"
	EventError          EventType = "error"
	EventPing           EventType = "ping"
)

// ChannelKey names a channel. A clinic and doctor pairing outlives any one
// day, so the date travels on each event instead.
type ChannelKey struct {
	ClinicID uuid.UUID
	DoctorID uuid.UUID
}

func KeyOf(scope appointment.Scope) ChannelKey {
	return ChannelKey{ClinicID: scope.ClinicID, DoctorID: scope.DoctorID}
}

func (k ChannelKey) String() string {
	return k.ClinicID.String() + ":" + k.DoctorID.String()
}

// Event is the wire envelope. Exactly one payload field is set, selected by
// Type. Version is the queue version for queue_control and snapshot events;
// clients discard queue events not newer than their last snapshot.
type Event struct {
	Type      EventType       `json:"type"`
	ClinicID  uuid.UUID       `json:"clinic_id"`
	DoctorID  uuid.UUID       `json:"doctor_id"`
	Date      string          `json:"date,omitempty"`
	Version   int64           `json:"version,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Booking   *BookingChanged `json:"booking,omitempty"`
	Queue     *QueueControl   `json:"queue,omitempty"`
	Snapshot  *QueueState     `json:"snapshot,omitempty"`
	Result    *CommandResult  `json:"result,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

func (e Event) Key() ChannelKey {
	return ChannelKey{ClinicID: e.ClinicID, DoctorID: e.DoctorID}
}

type BookingChanged struct {
	Kind            appointment.BookingEventKind `json:"kind"`
	BookingID       uuid.UUID                    `json:"booking_id"`
	BlockID         uuid.UUID                    `json:"block_id"`
	TokenNumber     int                          `json:"token_number"`
	PatientName     string                       `json:"patient_name"`
	PositionIndex   int                          `json:"position_index"`
	OccupiedTime    time.Time                    `json:"occupied_time"`
	Status          appointment.BookingStatus    `json:"status"`
	BlockStatus     appointment.BlockStatus      `json:"block_status"`
	CurrentBookings int                          `json:"current_bookings"`
	OpenPositions   int                          `json:"open_positions"`
}

// QueueControl is one applied transition together with the state it produced.
type QueueControl struct {
	Action  queue.Action  `json:"action"`
	Outcome queue.Outcome `json:"outcome"`
	State   QueueState    `json:"state"`
}

type QueueState struct {
	Phase            queue.Phase  `json:"phase"`
	ServingIndex     int          `json:"serving_index"`
	Running          bool         `json:"running"`
	ServingBookingID *uuid.UUID   `json:"serving_booking_id,omitempty"`
	Entries          []QueueEntry `json:"entries"`
	Version          int64        `json:"version"`
}

type QueueEntry struct {
	BookingID    uuid.UUID                 `json:"booking_id"`
	BlockID      uuid.UUID                 `json:"block_id"`
	TokenNumber  int                       `json:"token_number"`
	PatientName  string                    `json:"patient_name"`
	OccupiedTime time.Time                 `json:"occupied_time"`
	Status       appointment.BookingStatus `json:"status"`
}

// CommandResult answers the sender of a command. Everyone else, the sender
// included, also sees the queue_control broadcast.
type CommandResult struct {
	Action         string        `json:"action"`
	ClientSequence int64         `json:"client_sequence,omitempty"`
	Outcome        queue.Outcome `json:"outcome,omitempty"`
}

type ErrorPayload struct {
	Action         string `json:"action,omitempty"`
	ClientSequence int64  `json:"client_sequence,omitempty"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

func NewQueueState(s queue.State) QueueState {
	entries := make([]QueueEntry, 0, len(s.Entries))
	for _, e := range s.Entries {
		entries = append(entries, QueueEntry{
			BookingID:    e.BookingID,
			BlockID:      e.BlockID,
			TokenNumber:  e.TokenNumber,
			PatientName:  e.PatientName,
			OccupiedTime: e.OccupiedTime,
			Status:       e.Status,
		})
	}
	return QueueState{
		Phase:            s.Phase,
		ServingIndex:     s.ServingIndex,
		Running:          s.Running,
		ServingBookingID: s.ServingBookingID,
		Entries:          entries,
		Version:          s.Version,
	}
}

func bookingEvent(ev appointment.BookingEvent, now time.Time) Event {
	bk := ev.Booking
	return Event{
		Type:      EventBookingChanged,
		ClinicID:  bk.ClinicID,
		DoctorID:  bk.DoctorID,
		Date:      bk.Date,
		Timestamp: now,
		Booking: &BookingChanged{
			Kind:            ev.Kind,
			BookingID:       bk.ID,
			BlockID:         bk.BlockID,
			TokenNumber:     bk.TokenNumber,
			PatientName:     bk.Patient.Name,
			PositionIndex:   bk.PositionIndex,
			OccupiedTime:    bk.OccupiedTime,
			Status:          bk.Status,
			BlockStatus:     ev.Block.Status,
			CurrentBookings: ev.Block.CurrentBookings,
			OpenPositions:   ev.OpenPositions,
		},
	}
}

func queueEvent(t queue.Transition, now time.Time) Event {
	return Event{
		Type:      EventQueueControl,
		ClinicID:  t.State.Scope.ClinicID,
		DoctorID:  t.State.Scope.DoctorID,
		Date:      t.State.Scope.Date,
		Version:   t.State.Version,
		Timestamp: now,
		Queue: &QueueControl{
			Action:  t.Action,
			Outcome: t.Outcome,
			State:   NewQueueState(t.State),
		},
	}
}

// SnapshotEvent wraps a full queue state for a joining or resyncing client.
func SnapshotEvent(s queue.State, now time.Time) Event {
	state := NewQueueState(s)
	return Event{
		Type:      EventSnapshot,
		ClinicID:  s.Scope.ClinicID,
		DoctorID:  s.Scope.DoctorID,
		Date:      s.Scope.Date,
		Version:   s.Version,
		Timestamp: now,
		Snapshot:  &state,
	}
}
