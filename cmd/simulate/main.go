package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/identity"
	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	QueueRatio   float64
	ReadRatio    float64
	BlockLimit   int
	PostgresDSN  string
}

type simBlock struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
	DoctorID uuid.UUID
	Date     string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking      OperationMetrics
	Availability OperationMetrics
	Queue        OperationMetrics
	Snapshot     OperationMetrics
}

// Simulator drives concurrent bookings and queue commands against a running
// api-server, then checks the store for double-booked positions.
type Simulator struct {
	config  SimConfig
	blocks  []simBlock
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
	seq     atomic.Int64
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(baseCfg.Env).With().Str("component", "simulate").Logger()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("queue", cfg.QueueRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	blocks, err := loadBlocks(ctx, pgPool, cfg.BlockLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("load blocks")
	}
	logger.Info().Int("blocks", len(blocks)).Msg("loaded open blocks")

	sim := &Simulator{
		config: cfg,
		blocks: blocks,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	dups, err := countDoubleBookings(context.Background(), pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("double booking check")
	}
	if dups > 0 {
		logger.Error().Int("positions", dups).Msg("positions held by more than one live booking")
		os.Exit(1)
	}
	logger.Info().Msg("no position holds more than one live booking")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		QueueRatio:   getFloat("SIM_QUEUE_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		BlockLimit:   getInt("SIM_BLOCK_LIMIT", 50),
		PostgresDSN:  base.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.QueueRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.QueueRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadBlocks(ctx context.Context, pool *pgxpool.Pool, limit int) ([]simBlock, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, clinic_id, doctor_id, to_char(date, 'YYYY-MM-DD')
		FROM appointment_blocks
		WHERE status IN ('available', 'booked') AND date >= current_date
		ORDER BY start_time
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []simBlock
	for rows.Next() {
		var b simBlock
		if err := rows.Scan(&b.ID, &b.ClinicID, &b.DoctorID, &b.Date); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no open blocks; run cmd/seed first")
	}
	return blocks, nil
}

func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT block_id, date_trunc('minute', occupied_time)
			FROM bookings
			WHERE status <> 'cancelled'
			GROUP BY 1, 2
			HAVING count(*) > 1
		) d
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	clientID := fmt.Sprintf("sim-%d", workerID)

	for ctx.Err() == nil {
		// Workers share a small set of hot blocks so bookings collide.
		b := s.blocks[rng.Intn(min(len(s.blocks), 3))]

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng, b)
		case r < s.config.BookingRatio+s.config.QueueRatio:
			s.doQueueCommand(ctx, rng, b, clientID)
		default:
			if rng.Intn(2) == 0 {
				s.doAvailability(ctx, b)
			} else {
				s.doSnapshot(ctx, b)
			}
		}
	}
}

func (s *Simulator) do(ctx context.Context, method, path string, body any, staff bool) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if staff {
		req.Header.Set(identity.HeaderUserID, "simulator")
		req.Header.Set(identity.HeaderRole, identity.RoleAssistant)
	}
	return s.client.Do(req)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, b simBlock) {
	resp, err := s.do(ctx, http.MethodGet, "/blocks/"+b.ID.String()+"/availability?open=true", nil, false)
	if err != nil {
		return
	}
	var open []struct {
		StartTime time.Time `json:"start_time"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&open)
	resp.Body.Close()
	if len(open) == 0 {
		return
	}

	// Most workers go for the earliest open position, the rest pick at random.
	target := open[0].StartTime
	if rng.Intn(4) == 0 {
		target = open[rng.Intn(len(open))].StartTime
	}

	start := time.Now()
	resp, err = s.do(ctx, http.MethodPost, "/blocks/"+b.ID.String()+"/bookings", map[string]any{
		"start_time":     target,
		"patient_name":   gofakeit.Name(),
		"patient_phone":  gofakeit.Phone(),
		"patient_age":    gofakeit.Number(1, 90),
		"patient_gender": gofakeit.Gender(),
	}, false)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

var queueActions = []string{"start", "next", "next", "next", "pause"}

func (s *Simulator) doQueueCommand(ctx context.Context, rng *rand.Rand, b simBlock, clientID string) {
	path := fmt.Sprintf("/queues/%s/%s/%s/commands", b.ClinicID, b.DoctorID, b.Date)

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, path, map[string]any{
		"action":          queueActions[rng.Intn(len(queueActions))],
		"client_id":       clientID,
		"client_sequence": s.seq.Add(1),
	}, true)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		// Pausing an idle queue and similar races are expected.
		conflict = resp.StatusCode == http.StatusConflict
	}
	s.metrics.Queue.Record(latency, success, conflict)
}

func (s *Simulator) doAvailability(ctx context.Context, b simBlock) {
	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, "/blocks/"+b.ID.String()+"/availability", nil, false)
	latency := time.Since(start)

	success := false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Availability.Record(latency, success, false)
}

func (s *Simulator) doSnapshot(ctx context.Context, b simBlock) {
	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/queues/%s/%s/%s", b.ClinicID, b.DoctorID, b.Date), nil, false)
	latency := time.Since(start)

	success := false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Snapshot.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Queue command", &s.metrics.Queue)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Queue snapshot", &s.metrics.Snapshot)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
