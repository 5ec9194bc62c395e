package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/gateway"
)

type CreateBookingRequest struct {
	StartTime     time.Time `json:"start_time"`
	PatientName   string    `json:"patient_name"`
	PatientPhone  string    `json:"patient_phone"`
	PatientAge    int       `json:"patient_age"`
	PatientGender string    `json:"patient_gender,omitempty"`
}

type UpdateBookingStatusRequest struct {
	Status string `json:"status"`
}

type ConfirmationResponse struct {
	ClinicName      string  `json:"clinic_name"`
	ClinicLocation  string  `json:"clinic_location"`
	DoctorName      string  `json:"doctor_name"`
	ConsultationFee float64 `json:"consultation_fee"`
}

type BookingResponse struct {
	ID            uuid.UUID             `json:"id"`
	BlockID       uuid.UUID             `json:"block_id"`
	ClinicID      uuid.UUID             `json:"clinic_id"`
	DoctorID      uuid.UUID             `json:"doctor_id"`
	Date          string                `json:"date"`
	PatientName   string                `json:"patient_name"`
	PatientPhone  string                `json:"patient_phone"`
	PatientAge    int                   `json:"patient_age"`
	PatientGender string                `json:"patient_gender,omitempty"`
	TokenNumber   int                   `json:"token_number"`
	PositionIndex int                   `json:"position_index"`
	OccupiedTime  time.Time             `json:"occupied_time"`
	Status        string                `json:"status"`
	CreatedAt     time.Time             `json:"created_at"`
	Confirmation  *ConfirmationResponse `json:"confirmation,omitempty"`
}

type CreateBlockRequest struct {
	ClinicID  string    `json:"clinic_id"`
	DoctorID  string    `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Capacity  int       `json:"capacity"`
}

type UpdateBlockStatusRequest struct {
	Status string `json:"status"`
}

type UpdateBlockGeometryRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Capacity  int       `json:"capacity"`
}

type BlockResponse struct {
	ID              uuid.UUID `json:"id"`
	ClinicID        uuid.UUID `json:"clinic_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Date            string    `json:"date"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Capacity        int       `json:"capacity"`
	CurrentBookings int       `json:"current_bookings"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type PositionResponse struct {
	Index     int       `json:"index"`
	StartTime time.Time `json:"start_time"`
	Taken     bool      `json:"taken"`
}

type QueueCommandRequest struct {
	Action         string `json:"action"`
	ClientID       string `json:"client_id,omitempty"`
	ClientSequence int64  `json:"client_sequence,omitempty"`
}

type QueueCommandResponse struct {
	Action  string             `json:"action"`
	Outcome string             `json:"outcome"`
	Message string             `json:"message,omitempty"`
	State   gateway.QueueState `json:"state"`
}

type QueueSnapshotResponse struct {
	ClinicID uuid.UUID          `json:"clinic_id"`
	DoctorID uuid.UUID          `json:"doctor_id"`
	Date     string             `json:"date"`
	State    gateway.QueueState `json:"state"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func newBookingResponse(bk *appointment.Booking, c *appointment.Confirmation) BookingResponse {
	resp := BookingResponse{
		ID:            bk.ID,
		BlockID:       bk.BlockID,
		ClinicID:      bk.ClinicID,
		DoctorID:      bk.DoctorID,
		Date:          bk.Date,
		PatientName:   bk.Patient.Name,
		PatientPhone:  bk.Patient.Phone,
		PatientAge:    bk.Patient.Age,
		PatientGender: bk.Patient.Gender,
		TokenNumber:   bk.TokenNumber,
		PositionIndex: bk.PositionIndex,
		OccupiedTime:  bk.OccupiedTime,
		Status:        string(bk.Status),
		CreatedAt:     bk.CreatedAt,
	}
	if c != nil {
		resp.Confirmation = &ConfirmationResponse{
			ClinicName:      c.ClinicName,
			ClinicLocation:  c.ClinicLocation,
			DoctorName:      c.DoctorName,
			ConsultationFee: c.ConsultationFee,
		}
	}
	return resp
}

func newBlockResponse(b *appointment.Block) BlockResponse {
	return BlockResponse{
		ID:              b.ID,
		ClinicID:        b.ClinicID,
		DoctorID:        b.DoctorID,
		Date:            b.Date,
		StartTime:       b.StartTime,
		EndTime:         b.EndTime,
		Capacity:        b.Capacity,
		CurrentBookings: b.CurrentBookings,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}
