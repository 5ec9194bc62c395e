package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
)

func createBookingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blockID, ok := uuidParam(w, r, "blockID", "invalid_block_id")
		if !ok {
			return
		}

		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.StartTime.IsZero() {
			writeError(w, http.StatusBadRequest, "validation_error", "start_time is required")
			return
		}

		bk, err := svc.Book(r.Context(), blockID, req.StartTime, appointment.Patient{
			Name:   req.PatientName,
			Phone:  req.PatientPhone,
			Age:    req.PatientAge,
			Gender: req.PatientGender,
		})
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, newBookingResponse(bk, svc.Confirmation(r.Context(), bk)))
	}
}

func getBookingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_booking_id")
		if !ok {
			return
		}

		bk, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newBookingResponse(bk, svc.Confirmation(r.Context(), bk)))
	}
}

func updateBookingStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_booking_id")
		if !ok {
			return
		}

		var req UpdateBookingStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		bk, err := svc.UpdateBookingStatus(r.Context(), id, appointment.BookingStatus(req.Status))
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newBookingResponse(bk, nil))
	}
}

func availabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blockID, ok := uuidParam(w, r, "blockID", "invalid_block_id")
		if !ok {
			return
		}

		_, positions, err := svc.GetAvailability(r.Context(), blockID)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		// ?open=true leaves out taken positions.
		openOnly := r.URL.Query().Get("open") == "true"

		resp := make([]PositionResponse, 0, len(positions))
		for _, p := range positions {
			if openOnly && p.Taken {
				continue
			}
			resp = append(resp, PositionResponse{Index: p.Index, StartTime: p.StartTime, Taken: p.Taken})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func createBlockHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		block, err := svc.CreateBlock(r.Context(), appointment.NewBlock{
			ClinicID:  clinicID,
			DoctorID:  doctorID,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Capacity:  req.Capacity,
		})
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, newBlockResponse(block))
	}
}

func getBlockHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "blockID", "invalid_block_id")
		if !ok {
			return
		}

		block, err := svc.GetBlock(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newBlockResponse(block))
	}
}

func listBlocksHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := scopeParams(w, r)
		if !ok {
			return
		}

		blocks, err := svc.ListBlocksForScope(r.Context(), scope)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		resp := make([]BlockResponse, 0, len(blocks))
		for i := range blocks {
			resp = append(resp, newBlockResponse(&blocks[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateBlockStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "blockID", "invalid_block_id")
		if !ok {
			return
		}

		var req UpdateBlockStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		block, err := svc.UpdateBlockStatus(r.Context(), id, appointment.BlockStatus(req.Status))
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newBlockResponse(block))
	}
}

func updateBlockGeometryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "blockID", "invalid_block_id")
		if !ok {
			return
		}

		var req UpdateBlockGeometryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		block, err := svc.UpdateBlockGeometry(r.Context(), id, req.StartTime, req.EndTime, req.Capacity)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newBlockResponse(block))
	}
}

func handleAppointmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", appointment.ErrSlotTaken.Error())
	case errors.Is(err, appointment.ErrBlockClosed):
		writeError(w, http.StatusConflict, "block_closed", err.Error())
	case errors.Is(err, appointment.ErrGeometryFrozen):
		writeError(w, http.StatusConflict, "geometry_frozen", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrBlockNotFound):
		writeError(w, http.StatusNotFound, "block_not_found", err.Error())
	case errors.Is(err, appointment.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, appointment.ErrTransient):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "transient", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// scopeParams reads clinicID and doctorID from the path and the date from
// the path or, failing that, the date query parameter.
func scopeParams(w http.ResponseWriter, r *http.Request) (appointment.Scope, bool) {
	clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
	if !ok {
		return appointment.Scope{}, false
	}
	doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return appointment.Scope{}, false
	}

	date := chi.URLParam(r, "date")
	if date == "" {
		date = r.URL.Query().Get("date")
	}
	if _, err := time.Parse(appointment.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return appointment.Scope{}, false
	}

	return appointment.Scope{ClinicID: clinicID, DoctorID: doctorID, Date: date}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
