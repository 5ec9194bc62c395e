package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const blockColumns = `id, clinic_id, doctor_id, to_char(date, 'YYYY-MM-DD'), start_time, end_time,
	capacity, current_bookings, status, created_at, updated_at`

const bookingColumns = `id, block_id, clinic_id, doctor_id, to_char(date, 'YYYY-MM-DD'),
	patient_name, patient_phone, patient_age, patient_gender,
	token_number, position_index, occupied_time, status, created_at, updated_at`

func scanBlock(row pgx.Row) (*Block, error) {
	var b Block

	err := row.Scan(
		&b.ID,
		&b.ClinicID,
		&b.DoctorID,
		&b.Date,
		&b.StartTime,
		&b.EndTime,
		&b.Capacity,
		&b.CurrentBookings,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}

	return &b, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var bk Booking

	err := row.Scan(
		&bk.ID,
		&bk.BlockID,
		&bk.ClinicID,
		&bk.DoctorID,
		&bk.Date,
		&bk.Patient.Name,
		&bk.Patient.Phone,
		&bk.Patient.Age,
		&bk.Patient.Gender,
		&bk.TokenNumber,
		&bk.PositionIndex,
		&bk.OccupiedTime,
		&bk.Status,
		&bk.CreatedAt,
		&bk.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return &bk, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		bk, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *bk)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) CreateBlock(ctx context.Context, b Block) (*Block, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_blocks
			(id, clinic_id, doctor_id, date, start_time, end_time, capacity, current_bookings, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, 0, $8, now(), now())
		RETURNING `+blockColumns,
		b.ID, b.ClinicID, b.DoctorID, b.Date, b.StartTime, b.EndTime, b.Capacity, b.Status)
	return scanBlock(row)
}

func (r *PgRepository) GetBlockByID(ctx context.Context, id uuid.UUID) (*Block, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM appointment_blocks
		WHERE id = $1
	`, id)
	return scanBlock(row)
}

func (r *PgRepository) ListBlocksByScope(ctx context.Context, scope Scope) ([]Block, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+blockColumns+`
		FROM appointment_blocks
		WHERE clinic_id = $1 AND doctor_id = $2 AND date = $3::date
		ORDER BY start_time
	`, scope.ClinicID, scope.DoctorID, scope.Date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateBlockStatus(ctx context.Context, id uuid.UUID, to BlockStatus) (*Block, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointment_blocks
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+blockColumns,
		id, to)
	return scanBlock(row)
}

func (r *PgRepository) UpdateBlockGeometry(ctx context.Context, id uuid.UUID, start, end time.Time, capacity int) (*Block, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointment_blocks
		SET start_time = $2,
		    end_time = $3,
		    capacity = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+blockColumns,
		id, start, end, capacity)
	return scanBlock(row)
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) ListBookingsByBlock(ctx context.Context, blockID uuid.UUID) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE block_id = $1
		ORDER BY occupied_time, id
	`, blockID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListBookingsByScope(ctx context.Context, scope Scope) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE clinic_id = $1 AND doctor_id = $2 AND date = $3::date
		ORDER BY occupied_time, id
	`, scope.ClinicID, scope.DoctorID, scope.Date)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) InsertBooking(ctx context.Context, b Booking) (*Booking, *Block, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock on the block orders token allocation even if the outer
	// distributed lock expired mid-flight.
	if _, err := tx.Exec(ctx, `SELECT id FROM appointment_blocks WHERE id = $1 FOR UPDATE`, b.BlockID); err != nil {
		return nil, nil, fmt.Errorf("lock block row: %w", err)
	}

	var token int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0) + 1
		FROM bookings
		WHERE block_id = $1
	`, b.BlockID).Scan(&token)
	if err != nil {
		return nil, nil, fmt.Errorf("next token number: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, block_id, clinic_id, doctor_id, date, patient_name, patient_phone, patient_age, patient_gender,
			 token_number, position_index, occupied_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING `+bookingColumns,
		b.ID, b.BlockID, b.ClinicID, b.DoctorID, b.Date,
		b.Patient.Name, b.Patient.Phone, b.Patient.Age, b.Patient.Gender,
		token, b.PositionIndex, b.OccupiedTime, b.Status)
	created, err := scanBooking(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, nil, ErrSlotTaken
		}
		return nil, nil, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE appointment_blocks
		SET current_bookings = current_bookings + 1,
		    status = CASE WHEN status = 'available' THEN 'booked' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+blockColumns,
		b.BlockID)
	block, err := scanBlock(row)
	if err != nil {
		return nil, nil, fmt.Errorf("bump block counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit booking tx: %w", err)
	}

	return created, block, nil
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, *Block, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin status tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, to, from)
	updated, err := scanBooking(row)
	if err != nil {
		return nil, nil, err
	}

	delta := 0
	if to == StatusCancelled {
		delta = -1
	}
	row = tx.QueryRow(ctx, `
		UPDATE appointment_blocks
		SET current_bookings = current_bookings + $2,
		    status = CASE
		        WHEN status = 'booked' AND current_bookings + $2 = 0 THEN 'available'
		        ELSE status
		    END,
		    updated_at = CASE WHEN $2 <> 0 THEN now() ELSE updated_at END
		WHERE id = $1
		RETURNING `+blockColumns,
		updated.BlockID, delta)
	block, err := scanBlock(row)
	if err != nil {
		return nil, nil, fmt.Errorf("adjust block counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit status tx: %w", err)
	}

	return updated, block, nil
}

func (r *PgRepository) FindStaleBookings(ctx context.Context, endedBefore time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ('pending', 'confirmed')
		  AND block_id IN (SELECT id FROM appointment_blocks WHERE end_time < $1)
		ORDER BY occupied_time, id
	`, endedBefore)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, block_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.BookingID, ev.BlockID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) ConfirmationDetails(ctx context.Context, clinicID, doctorID uuid.UUID) (*Confirmation, error) {
	var c Confirmation
	err := r.pool.QueryRow(ctx, `
		SELECT c.name, c.location, d.name, d.consultation_fee::float8
		FROM clinics c, doctors d
		WHERE c.id = $1 AND d.id = $2
	`, clinicID, doctorID).Scan(&c.ClinicName, &c.ClinicLocation, &c.DoctorName, &c.ConsultationFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}
	return &c, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
