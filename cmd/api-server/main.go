package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-queue-scheduling/internal/api"
	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/eventbus"
	"github.com/hackgods/clinic-queue-scheduling/internal/gateway"
	"github.com/hackgods/clinic-queue-scheduling/internal/lock"
	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Env)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("node_id", cfg.NodeID).
		Str("store", cfg.StoreBackend).
		Str("lock", cfg.LockBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		pgPool *pgxpool.Pool
		rdb    *redis.Client
	)

	var (
		repo      appointment.Repository
		directory appointment.Directory
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn, logger)
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		if cfg.MigrateOnStart {
			if err := db.Migrate(rootCtx, pgPool); err != nil {
				logger.Fatal().Err(err).Msg("schema migration failed")
			}
		}
		pg := appointment.NewPgRepository(pgPool)
		repo, directory = pg, pg
	default:
		mem := appointment.NewMemoryRepository()
		repo, directory = mem, mem
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	}

	if cfg.UsesRedis() {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:       cfg.RedisAddr,
			Username:   cfg.RedisUsername,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			ClientName: "api-server:" + cfg.NodeID,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")
	}

	var (
		locker  lock.Locker
		cursors queue.CursorStore
		relay   *eventbus.RedisRelay
	)
	hubOpts := []gateway.HubOption{}
	if rdb != nil {
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		cursors = redisclient.NewCursorStore(rdb, cfg.CursorTTL)
		relay = eventbus.NewRedisRelay(rdb, cfg.NodeID, logger)
		hubOpts = append(hubOpts, gateway.WithRelay(relay))
	} else {
		locker = lock.NewLocal(cfg.LockWait)
		cursors = queue.NewMemoryCursorStore()
	}

	hub := gateway.NewHub(logger, hubOpts...)
	svc := appointment.NewService(repo, locker, logger,
		appointment.WithPublisher(hub),
		appointment.WithDirectory(directory),
	)
	queues := queue.NewManager(svc, cursors, locker, logger, queue.WithPublisher(hub))
	defer queues.Close()

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Queues:  queues,
		Hub:     hub,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
		WSPing:  cfg.WSPingInterval,

		WSOrigins: cfg.WSOriginPatterns,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		return
	}
	logger.Info().Msg("api-server stopped")
}
