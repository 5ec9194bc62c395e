// Package queue runs the "now serving" queue of one doctor's day at one
// clinic. Machine is the pure transition logic; Manager serializes commands
// per scope and persists the serving cursor.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
)

type Action string

const (
	ActionStart Action = "start"
	ActionPause Action = "pause"
	ActionNext  Action = "next"
	ActionEnd   Action = "end"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionPause, ActionNext, ActionEnd:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidAction, s)
}

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseServing Phase = "serving"
	PhasePaused  Phase = "paused"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeEmpty     Outcome = "empty_queue"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeDuplicate Outcome = "duplicate"
)

var (
	// ErrEmptyQueue is informational: Start found nobody waiting.
	ErrEmptyQueue        = errors.New("no patients waiting in queue")
	ErrInvalidTransition = errors.New("invalid queue transition")
	ErrInvalidAction     = errors.New("invalid queue action")
)

// Entry is one booking as seen by the queue.
type Entry struct {
	BookingID    uuid.UUID
	BlockID      uuid.UUID
	TokenNumber  int
	PatientName  string
	OccupiedTime time.Time
	Status       appointment.BookingStatus
}

func (e Entry) waiting() bool {
	return !e.Status.Terminal()
}

// Machine is an immutable queue state. Apply returns a new Machine and
// never modifies the receiver, so a failed side effect can simply discard
// the result.
type Machine struct {
	entries []Entry
	serving int
	running bool
}

// Rebuild derives a machine from persisted bookings and the last saved
// cursor. Without a cursor the queue is idle.
func Rebuild(bookings []appointment.Booking, c Cursor) Machine {
	sorted := append([]appointment.Booking(nil), bookings...)
	appointment.SortBookings(sorted)

	m := Machine{entries: make([]Entry, 0, len(sorted)), serving: -1}
	for _, bk := range sorted {
		m.entries = append(m.entries, Entry{
			BookingID:    bk.ID,
			BlockID:      bk.BlockID,
			TokenNumber:  bk.TokenNumber,
			PatientName:  bk.Patient.Name,
			OccupiedTime: bk.OccupiedTime,
			Status:       bk.Status,
		})
	}

	if c.ServingBookingID == nil {
		return m
	}
	idx := m.indexOf(*c.ServingBookingID)
	if idx < 0 {
		return m
	}

	// A serving booking cancelled or marked no-show elsewhere hands over to
	// the next waiting patient.
	st := m.entries[idx].Status
	if st == appointment.StatusCancelled || st == appointment.StatusNoShow {
		idx = m.nextWaiting(idx + 1)
		if idx < 0 {
			return m
		}
	}

	m.serving = idx
	m.running = c.Running
	return m
}

// Result describes what a transition did. Complete, when set, names the
// booking that must be marked completed for the transition to take effect.
type Result struct {
	Action   Action
	Outcome  Outcome
	Complete *uuid.UUID
}

func (m Machine) Apply(a Action) (Machine, Result, error) {
	res := Result{Action: a, Outcome: OutcomeApplied}

	switch a {
	case ActionStart:
		if m.Phase() == PhaseServing {
			res.Outcome = OutcomeNoop
			return m, res, nil
		}
		next := m.clone()
		if next.serving < 0 {
			idx := next.nextWaiting(0)
			if idx < 0 {
				res.Outcome = OutcomeEmpty
				return m, res, ErrEmptyQueue
			}
			next.serving = idx
		}
		next.running = true
		return next, res, nil

	case ActionPause:
		switch m.Phase() {
		case PhaseIdle:
			return m, res, fmt.Errorf("%w: cannot pause an idle queue", ErrInvalidTransition)
		case PhasePaused:
			res.Outcome = OutcomeNoop
			return m, res, nil
		}
		next := m.clone()
		next.running = false
		return next, res, nil

	case ActionNext:
		if m.Phase() == PhaseIdle {
			return m, res, fmt.Errorf("%w: queue is not started", ErrInvalidTransition)
		}
		next := m.clone()
		res.Complete = next.completeServing()
		idx := next.nextWaiting(next.serving + 1)
		if idx < 0 {
			next.serving = -1
			next.running = false
			res.Outcome = OutcomeExhausted
			return next, res, nil
		}
		next.serving = idx
		next.running = true
		return next, res, nil

	case ActionEnd:
		if m.Phase() == PhaseIdle {
			res.Outcome = OutcomeNoop
			return m, res, nil
		}
		next := m.clone()
		res.Complete = next.completeServing()
		next.serving = -1
		next.running = false
		return next, res, nil
	}

	return m, res, fmt.Errorf("%w: %q", ErrInvalidAction, a)
}

func (m Machine) Phase() Phase {
	switch {
	case m.serving < 0:
		return PhaseIdle
	case m.running:
		return PhaseServing
	default:
		return PhasePaused
	}
}

func (m Machine) ServingIndex() int { return m.serving }

func (m Machine) Running() bool { return m.running }

// Entries returns a copy of the ordered queue.
func (m Machine) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// ServingBookingID is nil when nobody is being served.
func (m Machine) ServingBookingID() *uuid.UUID {
	if m.serving < 0 {
		return nil
	}
	id := m.entries[m.serving].BookingID
	return &id
}

func (m Machine) clone() Machine {
	m.entries = append([]Entry(nil), m.entries...)
	return m
}

// completeServing marks the serving entry completed and returns its id, or
// nil when it already was.
func (m *Machine) completeServing() *uuid.UUID {
	if m.serving < 0 {
		return nil
	}
	e := &m.entries[m.serving]
	if e.Status == appointment.StatusCompleted {
		return nil
	}
	e.Status = appointment.StatusCompleted
	id := e.BookingID
	return &id
}

func (m Machine) nextWaiting(from int) int {
	for i := from; i < len(m.entries); i++ {
		if m.entries[i].waiting() {
			return i
		}
	}
	return -1
}

func (m Machine) indexOf(id uuid.UUID) int {
	for i, e := range m.entries {
		if e.BookingID == id {
			return i
		}
	}
	return -1
}
