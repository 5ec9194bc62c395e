package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/lock"
	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
)

const (
	clinicCount      = 5
	doctorsPerClinic = 4
	days             = 3
	blockCapacity    = 12
)

type doctor struct {
	id       uuid.UUID
	clinicID uuid.UUID
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Env).With().Str("component", "seed").Logger()
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	// 0 seeds from crypto/rand.
	gofakeit.Seed(0)

	doctors, err := seedDirectory(ctx, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed clinics and doctors")
	}

	svc := appointment.NewService(appointment.NewPgRepository(pool), lock.NewLocal(cfg.LockWait), logger)
	if err := seedBlocks(ctx, svc, doctors, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed blocks")
	}

	logger.Info().Msg("seed complete")
}

func seedDirectory(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) ([]doctor, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var doctors []doctor
	for i := 0; i < clinicCount; i++ {
		clinicID := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, location, created_at)
			VALUES ($1, $2, $3, now())
		`, clinicID, gofakeit.Company()+" Clinic", gofakeit.City())
		if err != nil {
			return nil, err
		}

		for j := 0; j < doctorsPerClinic; j++ {
			d := doctor{id: uuid.New(), clinicID: clinicID}
			fee := float64(gofakeit.Number(2, 12) * 50)
			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, clinic_id, name, consultation_fee, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, d.id, clinicID, "Dr. "+gofakeit.Name(), fee)
			if err != nil {
				return nil, err
			}
			doctors = append(doctors, d)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Int("clinics", clinicCount).Int("doctors", len(doctors)).Msg("directory seeded")
	return doctors, nil
}

// seedBlocks gives every doctor a morning and an afternoon block per day and
// books a random share of the positions.
func seedBlocks(ctx context.Context, svc *appointment.Service, doctors []doctor, logger zerolog.Logger) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	blocks, bookings := 0, 0

	for _, d := range doctors {
		for day := 0; day < days; day++ {
			date := today.AddDate(0, 0, day)
			for _, window := range [][2]int{{9, 12}, {14, 17}} {
				b, err := svc.CreateBlock(ctx, appointment.NewBlock{
					ClinicID:  d.clinicID,
					DoctorID:  d.id,
					StartTime: date.Add(time.Duration(window[0]) * time.Hour),
					EndTime:   date.Add(time.Duration(window[1]) * time.Hour),
					Capacity:  blockCapacity,
				})
				if err != nil {
					return fmt.Errorf("create block: %w", err)
				}
				blocks++

				for _, p := range appointment.Positions(b) {
					if gofakeit.Number(0, 99) >= 40 {
						continue
					}
					if _, err := svc.Book(ctx, b.ID, p.StartTime, fakePatient()); err != nil {
						return fmt.Errorf("book position %d: %w", p.Index, err)
					}
					bookings++
				}
			}
		}
	}

	logger.Info().Int("blocks", blocks).Int("bookings", bookings).Msg("blocks seeded")
	return nil
}

func fakePatient() appointment.Patient {
	return appointment.Patient{
		Name:   gofakeit.Name(),
		Phone:  gofakeit.Phone(),
		Age:    gofakeit.Number(1, 90),
		Gender: gofakeit.Gender(),
	}
}
