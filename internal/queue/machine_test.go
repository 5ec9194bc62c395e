package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
)

func bookingsAt(statuses ...appointment.BookingStatus) []appointment.Booking {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	out := make([]appointment.Booking, 0, len(statuses))
	for i, st := range statuses {
		out = append(out, appointment.Booking{
			ID:           uuid.New(),
			TokenNumber:  i + 1,
			OccupiedTime: base.Add(time.Duration(i) * 10 * time.Minute),
			Status:       st,
		})
	}
	return out
}

func mustApply(t *testing.T, m Machine, a Action) (Machine, Result) {
	t.Helper()
	next, res, err := m.Apply(a)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", a, err)
	}
	return next, res
}

func TestMachineServesInOrderUntilExhausted(t *testing.T) {
	bks := bookingsAt(appointment.StatusConfirmed, appointment.StatusConfirmed, appointment.StatusConfirmed)
	m := Rebuild(bks, Cursor{})

	if m.Phase() != PhaseIdle || m.ServingIndex() != -1 {
		t.Fatalf("expected idle queue, got %s at %d", m.Phase(), m.ServingIndex())
	}

	m, res := mustApply(t, m, ActionStart)
	if m.ServingIndex() != 0 || !m.Running() || res.Complete != nil {
		t.Fatalf("start: serving=%d running=%t complete=%v", m.ServingIndex(), m.Running(), res.Complete)
	}

	m, res = mustApply(t, m, ActionNext)
	if m.ServingIndex() != 1 {
		t.Fatalf("next: expected index 1, got %d", m.ServingIndex())
	}
	if res.Complete == nil || *res.Complete != bks[0].ID {
		t.Fatalf("next should complete the first booking, got %v", res.Complete)
	}

	m, _ = mustApply(t, m, ActionNext)
	if m.ServingIndex() != 2 {
		t.Fatalf("next: expected index 2, got %d", m.ServingIndex())
	}

	m, res = mustApply(t, m, ActionNext)
	if res.Outcome != OutcomeExhausted {
		t.Fatalf("expected exhausted outcome, got %s", res.Outcome)
	}
	if m.Phase() != PhaseIdle || m.ServingIndex() != -1 || m.Running() {
		t.Fatalf("exhausted queue should be idle, got %s at %d", m.Phase(), m.ServingIndex())
	}
	if res.Complete == nil || *res.Complete != bks[2].ID {
		t.Fatal("exhausting next should still complete the last booking")
	}
}

func TestMachinePauseResumeKeepsPosition(t *testing.T) {
	m := Rebuild(bookingsAt(appointment.StatusConfirmed, appointment.StatusConfirmed), Cursor{})

	m, _ = mustApply(t, m, ActionStart)
	m, _ = mustApply(t, m, ActionNext)
	m, _ = mustApply(t, m, ActionPause)
	if m.Phase() != PhasePaused || m.ServingIndex() != 1 {
		t.Fatalf("pause: got %s at %d", m.Phase(), m.ServingIndex())
	}

	m, res := mustApply(t, m, ActionStart)
	if m.Phase() != PhaseServing || m.ServingIndex() != 1 {
		t.Fatalf("resume: got %s at %d", m.Phase(), m.ServingIndex())
	}
	if res.Complete != nil {
		t.Fatal("resume must not complete anyone")
	}
}

func TestMachineStartOnEmptyQueue(t *testing.T) {
	m := Rebuild(bookingsAt(appointment.StatusCancelled), Cursor{})

	next, res, err := m.Apply(ActionStart)
	if !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected ErrEmptyQueue, got %v", err)
	}
	if res.Outcome != OutcomeEmpty || next.Phase() != PhaseIdle {
		t.Fatalf("empty start should leave the queue idle, got %s", next.Phase())
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := Rebuild(bookingsAt(appointment.StatusConfirmed), Cursor{})

	for _, a := range []Action{ActionPause, ActionNext} {
		if _, _, err := m.Apply(a); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on idle queue: expected ErrInvalidTransition, got %v", a, err)
		}
	}
	if _, _, err := m.Apply(Action("rewind")); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}
}

func TestMachineNoopTransitions(t *testing.T) {
	m := Rebuild(bookingsAt(appointment.StatusConfirmed, appointment.StatusConfirmed), Cursor{})

	m, res := mustApply(t, m, ActionEnd)
	if res.Outcome != OutcomeNoop {
		t.Errorf("end on idle: expected noop, got %s", res.Outcome)
	}

	m, _ = mustApply(t, m, ActionStart)
	m, res = mustApply(t, m, ActionStart)
	if res.Outcome != OutcomeNoop || m.ServingIndex() != 0 {
		t.Errorf("start while serving: expected noop at 0, got %s at %d", res.Outcome, m.ServingIndex())
	}

	m, _ = mustApply(t, m, ActionPause)
	_, res = mustApply(t, m, ActionPause)
	if res.Outcome != OutcomeNoop {
		t.Errorf("pause while paused: expected noop, got %s", res.Outcome)
	}
}

func TestMachineEndCompletesServingAndIsIdempotent(t *testing.T) {
	bks := bookingsAt(appointment.StatusConfirmed, appointment.StatusConfirmed)
	m := Rebuild(bks, Cursor{})

	m, _ = mustApply(t, m, ActionStart)
	m, res := mustApply(t, m, ActionEnd)
	if res.Complete == nil || *res.Complete != bks[0].ID {
		t.Fatalf("end should complete the serving booking, got %v", res.Complete)
	}
	if m.Phase() != PhaseIdle {
		t.Fatalf("end should leave the queue idle, got %s", m.Phase())
	}

	_, res = mustApply(t, m, ActionEnd)
	if res.Outcome != OutcomeNoop || res.Complete != nil {
		t.Fatalf("second end should be a noop, got %s", res.Outcome)
	}
}

func TestMachineSkipsTerminalBookings(t *testing.T) {
	bks := bookingsAt(
		appointment.StatusCompleted,
		appointment.StatusCancelled,
		appointment.StatusConfirmed,
		appointment.StatusNoShow,
		appointment.StatusPending,
	)
	m := Rebuild(bks, Cursor{})

	m, _ = mustApply(t, m, ActionStart)
	if m.ServingIndex() != 2 {
		t.Fatalf("start should skip finished bookings, got %d", m.ServingIndex())
	}
	m, _ = mustApply(t, m, ActionNext)
	if m.ServingIndex() != 4 {
		t.Fatalf("next should skip the no-show, got %d", m.ServingIndex())
	}
}

func TestMachineNextNeverMovesBackwards(t *testing.T) {
	bks := bookingsAt(
		appointment.StatusConfirmed,
		appointment.StatusConfirmed,
		appointment.StatusConfirmed,
		appointment.StatusConfirmed,
	)
	m := Rebuild(bks, Cursor{})
	m, _ = mustApply(t, m, ActionStart)

	last := m.ServingIndex()
	for m.Phase() != PhaseIdle {
		m, _ = mustApply(t, m, ActionNext)
		if m.Phase() != PhaseIdle && m.ServingIndex() <= last {
			t.Fatalf("serving index went from %d to %d", last, m.ServingIndex())
		}
		last = m.ServingIndex()
	}
}

func TestMachineApplyLeavesReceiverUntouched(t *testing.T) {
	m := Rebuild(bookingsAt(appointment.StatusConfirmed, appointment.StatusConfirmed), Cursor{})
	m, _ = mustApply(t, m, ActionStart)

	_, _ = mustApply(t, m, ActionNext)

	if m.ServingIndex() != 0 || m.Entries()[0].Status != appointment.StatusConfirmed {
		t.Fatal("apply must not modify the original machine")
	}
}

func TestRebuildRestoresCursor(t *testing.T) {
	bks := bookingsAt(appointment.StatusCompleted, appointment.StatusConfirmed, appointment.StatusConfirmed)
	id := bks[1].ID

	m := Rebuild(bks, Cursor{ServingBookingID: &id, Running: false})
	if m.Phase() != PhasePaused || m.ServingIndex() != 1 {
		t.Fatalf("expected paused at 1, got %s at %d", m.Phase(), m.ServingIndex())
	}
}

func TestRebuildSkipsCancelledServingBooking(t *testing.T) {
	bks := bookingsAt(appointment.StatusConfirmed, appointment.StatusCancelled, appointment.StatusConfirmed)
	id := bks[1].ID

	m := Rebuild(bks, Cursor{ServingBookingID: &id, Running: true})
	if m.ServingIndex() != 2 || m.Phase() != PhaseServing {
		t.Fatalf("expected to hand over to index 2, got %s at %d", m.Phase(), m.ServingIndex())
	}

	last := bookingsAt(appointment.StatusConfirmed, appointment.StatusCancelled)
	id = last[1].ID
	m = Rebuild(last, Cursor{ServingBookingID: &id, Running: true})
	if m.Phase() != PhaseIdle {
		t.Fatalf("cancelled last booking should leave the queue idle, got %s", m.Phase())
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Next ")
	if err != nil || a != ActionNext {
		t.Fatalf("expected next, got %q (%v)", a, err)
	}
	if _, err := ParseAction("skip"); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}
