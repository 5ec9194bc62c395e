package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/gateway"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
)

func queueCommandHandler(queues gateway.Queues) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := scopeParams(w, r)
		if !ok {
			return
		}

		var req QueueCommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		action, err := queue.ParseAction(req.Action)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_action", err.Error())
			return
		}

		// Without a client_id there is no sequence space to dedupe in.
		t, err := queues.Submit(r.Context(), queue.Command{
			Scope:    scope,
			Action:   action,
			ClientID: req.ClientID,
			Sequence: req.ClientSequence,
		})
		if err != nil && !errors.Is(err, queue.ErrEmptyQueue) {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, QueueCommandResponse{
			Action:  string(action),
			Outcome: string(t.Outcome),
			Message: outcomeMessage(t.Outcome),
			State:   gateway.NewQueueState(t.State),
		})
	}
}

func queueSnapshotHandler(queues gateway.Queues) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := scopeParams(w, r)
		if !ok {
			return
		}

		state, err := queues.Snapshot(r.Context(), scope)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, QueueSnapshotResponse{
			ClinicID: scope.ClinicID,
			DoctorID: scope.DoctorID,
			Date:     scope.Date,
			State:    gateway.NewQueueState(state),
		})
	}
}

// outcomeMessage is shown to staff as an informational note, never an error.
func outcomeMessage(o queue.Outcome) string {
	switch o {
	case queue.OutcomeEmpty:
		return "no patients are waiting"
	case queue.OutcomeExhausted:
		return "all patients for this day have been seen"
	case queue.OutcomeDuplicate:
		return "command already applied"
	}
	return ""
}

func handleQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, queue.ErrInvalidAction), errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_action", err.Error())
	case errors.Is(err, appointment.ErrTransient):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "transient", err.Error())
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
