package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/gateway"
	"github.com/hackgods/clinic-queue-scheduling/internal/identity"
	"github.com/hackgods/clinic-queue-scheduling/internal/telemetry"
)

type RouterConfig struct {
	Service *appointment.Service
	Queues  gateway.Queues
	Hub     *gateway.Hub
	PgPool  *pgxpool.Pool // nil with the memory store
	Redis   *redis.Client // nil with the local lock backend
	Logger  zerolog.Logger
	Env     string
	Version string
	WSPing  time.Duration

	// WSOrigins lists extra Origin host patterns allowed on /ws.
	WSOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(telemetry.MetricsMiddleware)
	r.Use(identity.Middleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version)
	if cfg.PgPool != nil {
		health.Register("postgres", cfg.PgPool.Ping)
	} else {
		health.Register("postgres", nil)
	}
	// Redis holds the locks and cursors, so without it nothing can be
	// booked or advanced.
	if cfg.Redis != nil {
		health.Register("redis", func(ctx context.Context) error { return cfg.Redis.Ping(ctx).Err() })
	} else {
		health.Register("redis", nil)
	}
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", telemetry.Handler())

	// Booking endpoints
	r.Get("/blocks/{blockID}/availability", availabilityHandler(cfg.Service))
	r.Post("/blocks/{blockID}/bookings", createBookingHandler(cfg.Service))
	r.Get("/blocks/{blockID}", getBlockHandler(cfg.Service))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
	r.Get("/clinics/{clinicID}/doctors/{doctorID}/blocks", listBlocksHandler(cfg.Service))

	// Queue snapshot is public; the waiting room display reads it.
	r.Get("/queues/{clinicID}/{doctorID}/{date}", queueSnapshotHandler(cfg.Queues))

	// Staff endpoints
	r.Group(func(r chi.Router) {
		r.Use(RequireStaff)
		r.Post("/blocks", createBlockHandler(cfg.Service))
		r.Patch("/blocks/{blockID}/status", updateBlockStatusHandler(cfg.Service))
		r.Put("/blocks/{blockID}/geometry", updateBlockGeometryHandler(cfg.Service))
		r.Post("/bookings/{id}/status", updateBookingStatusHandler(cfg.Service))
		r.Post("/queues/{clinicID}/{doctorID}/{date}/commands", queueCommandHandler(cfg.Queues))
	})

	// Real-time channel; command authorization happens per message.
	if cfg.Hub != nil {
		r.Get("/ws/clinics/{clinicID}/doctors/{doctorID}",
			gateway.NewWebSocketHandler(cfg.Hub, cfg.Queues, cfg.Logger, cfg.WSPing,
				gateway.WithOriginPatterns(cfg.WSOrigins...)).ServeHTTP)
	}

	return r
}
