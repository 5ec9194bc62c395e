package appointment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/lock"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []BookingEvent
}

func (p *recordingPublisher) PublishBooking(_ context.Context, ev BookingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []BookingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]BookingEvent(nil), p.events...)
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return lock.ErrNotAcquired
}

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryRepository, *recordingPublisher) {
	t.Helper()
	repo := NewMemoryRepository()
	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub)}, opts...)
	return NewService(repo, lock.NewLocal(2*time.Second), zerolog.New(io.Discard), opts...), repo, pub
}

func createTestBlock(t *testing.T, svc *Service, d time.Duration, capacity int) *Block {
	t.Helper()
	b, err := svc.CreateBlock(context.Background(), NewBlock{
		ClinicID:  uuid.New(),
		DoctorID:  uuid.New(),
		StartTime: nine,
		EndTime:   nine.Add(d),
		Capacity:  capacity,
	})
	if err != nil {
		t.Fatalf("create block: %v", err)
	}
	return b
}

func patient(name string) Patient {
	return Patient{Name: name, Phone: "555-0100", Age: 41, Gender: "female"}
}

func TestBookSamePositionConcurrently(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)
	target := nine.Add(15 * time.Minute)

	const racers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []*Booking
		errs []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bk, err := svc.Book(context.Background(), b.ID, target, patient(fmt.Sprintf("racer %d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			wins = append(wins, bk)
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(wins))
	}
	if !wins[0].OccupiedTime.Equal(target) {
		t.Fatalf("winner occupies %s, want %s", wins[0].OccupiedTime, target)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrSlotTaken) {
			t.Fatalf("loser got %v, want ErrSlotTaken", err)
		}
	}
}

func TestBookDistinctPositionsConcurrently(t *testing.T) {
	svc, repo, _ := newTestService(t)
	b := createTestBlock(t, svc, 2*time.Hour, 8)

	var wg sync.WaitGroup
	errs := make([]error, b.Capacity)
	for i := 0; i < b.Capacity; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), b.ID, PositionStart(b, i), patient("p"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("position %d: %v", i, err)
		}
	}

	bookings, _ := repo.ListBookingsByBlock(context.Background(), b.ID)
	tokens := make(map[int]bool)
	for _, bk := range bookings {
		if tokens[bk.TokenNumber] {
			t.Fatalf("token %d issued twice", bk.TokenNumber)
		}
		tokens[bk.TokenNumber] = true
	}
	for n := 1; n <= b.Capacity; n++ {
		if !tokens[n] {
			t.Fatalf("token %d missing", n)
		}
	}

	block, _ := svc.GetBlock(context.Background(), b.ID)
	if block.CurrentBookings != b.Capacity || block.Status != BlockBooked {
		t.Fatalf("block counters: %d %s", block.CurrentBookings, block.Status)
	}
	if _, err := svc.Book(context.Background(), b.ID, nine, patient("late")); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("full block: expected ErrSlotTaken, got %v", err)
	}
}

func TestBookedPositionLeavesAvailability(t *testing.T) {
	svc, _, pub := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)

	bk, err := svc.Book(context.Background(), b.ID, nine.Add(30*time.Minute), patient("Ana"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if bk.PositionIndex != 2 || bk.TokenNumber != 1 || bk.Status != StatusConfirmed {
		t.Fatalf("unexpected booking: %+v", bk)
	}

	_, positions, err := svc.GetAvailability(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !positions[2].Taken {
		t.Fatal("booked position still free")
	}

	events := pub.all()
	if len(events) != 1 || events[0].Kind != BookingCreated || events[0].OpenPositions != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Block.Status != BlockBooked || events[0].Block.CurrentBookings != 1 {
		t.Fatalf("event carries stale block: %+v", events[0].Block)
	}
}

func TestBookRejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)
	ctx := context.Background()

	if _, err := svc.Book(ctx, uuid.New(), nine, patient("x")); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("unknown block: got %v", err)
	}
	if _, err := svc.Book(ctx, b.ID, nine.Add(5*time.Minute), patient("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("off-grid time: got %v", err)
	}
	if _, err := svc.Book(ctx, b.ID, nine, Patient{Name: "  ", Phone: "1", Age: 3}); !errors.Is(err, ErrValidation) {
		t.Errorf("blank name: got %v", err)
	}
	if _, err := svc.Book(ctx, b.ID, nine, Patient{Name: "A", Phone: "1", Age: 0}); !errors.Is(err, ErrValidation) {
		t.Errorf("age zero: got %v", err)
	}
	if _, err := svc.Book(ctx, b.ID, nine, Patient{Name: "A", Phone: "1", Age: 30, Gender: "robot"}); !errors.Is(err, ErrValidation) {
		t.Errorf("gender: got %v", err)
	}

	if _, err := svc.UpdateBlockStatus(ctx, b.ID, BlockCompleted); err != nil {
		t.Fatalf("complete block: %v", err)
	}
	if _, err := svc.Book(ctx, b.ID, nine, patient("x")); !errors.Is(err, ErrBlockClosed) {
		t.Errorf("closed block: got %v", err)
	}
}

func TestBookLockTimeoutIsTransient(t *testing.T) {
	repo := NewMemoryRepository()
	open := NewService(repo, lock.NewLocal(time.Second), zerolog.New(io.Discard))
	b := createTestBlock(t, open, time.Hour, 4)

	busy := NewService(repo, busyLocker{}, zerolog.New(io.Discard))
	if _, err := busy.Book(context.Background(), b.ID, nine, patient("x")); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestBookingStatusLifecycle(t *testing.T) {
	svc, repo, pub := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)
	ctx := context.Background()

	bk, err := svc.Book(ctx, b.ID, nine, patient("Lee"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if err := svc.CompleteBooking(ctx, bk.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := svc.CompleteBooking(ctx, bk.ID); err != nil {
		t.Fatalf("second complete should be a no-op, got %v", err)
	}
	if _, err := svc.UpdateBookingStatus(ctx, bk.ID, StatusPending); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("completed to pending: got %v", err)
	}
	if _, err := svc.UpdateBookingStatus(ctx, bk.ID, BookingStatus("lost")); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status: got %v", err)
	}
	if _, err := svc.UpdateBookingStatus(ctx, uuid.New(), StatusCancelled); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("unknown booking: got %v", err)
	}

	changes := 0
	for _, ev := range pub.all() {
		if ev.Kind == BookingStatusChanged {
			changes++
		}
	}
	if changes != 1 {
		t.Fatalf("expected one status change event, got %d", changes)
	}

	logged := map[string]int{}
	for _, ev := range repo.Events() {
		logged[ev.EventType]++
	}
	if logged[EventBookingCreated] != 1 || logged[EventBookingStatusChanged] != 1 || logged[EventBlockCreated] != 1 {
		t.Fatalf("unexpected event log: %v", logged)
	}
}

func TestCancelFreesPosition(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)
	ctx := context.Background()

	bk, err := svc.Book(ctx, b.ID, nine.Add(15*time.Minute), patient("Sam"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.UpdateBookingStatus(ctx, bk.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	block, _ := svc.GetBlock(ctx, b.ID)
	if block.CurrentBookings != 0 || block.Status != BlockAvailable {
		t.Fatalf("block after cancel: %d %s", block.CurrentBookings, block.Status)
	}

	again, err := svc.Book(ctx, b.ID, nine.Add(15*time.Minute), patient("Kim"))
	if err != nil {
		t.Fatalf("rebook: %v", err)
	}
	if again.TokenNumber != 2 {
		t.Fatalf("tokens must not be reused, got %d", again.TokenNumber)
	}
}

func TestGeometryFrozenOnceBooked(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)
	ctx := context.Background()

	reshaped, err := svc.UpdateBlockGeometry(ctx, b.ID, nine, nine.Add(2*time.Hour), 8)
	if err != nil {
		t.Fatalf("reshape empty block: %v", err)
	}
	if reshaped.Capacity != 8 {
		t.Fatalf("capacity not updated: %d", reshaped.Capacity)
	}

	bk, err := svc.Book(ctx, b.ID, nine.Add(15*time.Minute), patient("Ravi"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.UpdateBlockGeometry(ctx, b.ID, nine, nine.Add(time.Hour), 4); !errors.Is(err, ErrGeometryFrozen) {
		t.Fatalf("expected ErrGeometryFrozen, got %v", err)
	}
	if _, err := svc.UpdateBlockGeometry(ctx, b.ID, nine.AddDate(0, 0, 1), nine.AddDate(0, 0, 1).Add(time.Hour), 4); !errors.Is(err, ErrValidation) {
		t.Fatalf("moving to another day: got %v", err)
	}

	if _, err := svc.UpdateBookingStatus(ctx, bk.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.UpdateBlockGeometry(ctx, b.ID, nine, nine.Add(time.Hour), 4); err != nil {
		t.Fatalf("reshape after cancel: %v", err)
	}
}

func TestUpdateBlockStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)
	ctx := context.Background()

	if _, err := svc.UpdateBlockStatus(ctx, b.ID, BlockBooked); !errors.Is(err, ErrValidation) {
		t.Fatalf("manual booked status: got %v", err)
	}
	if _, err := svc.UpdateBlockStatus(ctx, b.ID, BlockCancelled); err != nil {
		t.Fatalf("cancel block: %v", err)
	}
	if _, err := svc.UpdateBlockStatus(ctx, b.ID, BlockCancelled); err != nil {
		t.Fatalf("repeat cancel should be a no-op: %v", err)
	}
	if _, err := svc.UpdateBlockStatus(ctx, b.ID, BlockCompleted); !errors.Is(err, ErrBlockClosed) {
		t.Fatalf("completing a cancelled block: got %v", err)
	}
}

func TestMarkNoShows(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)
	ctx := context.Background()

	seen, _ := svc.Book(ctx, b.ID, nine, patient("Seen"))
	missing, _ := svc.Book(ctx, b.ID, nine.Add(15*time.Minute), patient("Missing"))
	if err := svc.CompleteBooking(ctx, seen.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if n, err := svc.MarkNoShows(ctx, nine.Add(30*time.Minute)); err != nil || n != 0 {
		t.Fatalf("block still running: marked %d (%v)", n, err)
	}

	n, err := svc.MarkNoShows(ctx, nine.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected one no-show, got %d (%v)", n, err)
	}
	got, _ := svc.GetBooking(ctx, missing.ID)
	if got.Status != StatusNoShow {
		t.Fatalf("expected no_show, got %s", got.Status)
	}
}

func TestListBookingsForScopeOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := createTestBlock(t, svc, time.Hour, 4)
	ctx := context.Background()

	for _, off := range []time.Duration{45, 0, 30, 15} {
		if _, err := svc.Book(ctx, b.ID, nine.Add(off*time.Minute), patient("p")); err != nil {
			t.Fatalf("book: %v", err)
		}
	}

	bookings, err := svc.ListBookingsForScope(ctx, b.Scope())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i := 1; i < len(bookings); i++ {
		if !bookings[i].OccupiedTime.After(bookings[i-1].OccupiedTime) {
			t.Fatalf("bookings out of order at %d", i)
		}
	}
}

func TestConfirmationDetails(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, lock.NewLocal(time.Second), zerolog.New(io.Discard), WithDirectory(repo))
	b := createTestBlock(t, svc, time.Hour, 4)

	bk, err := svc.Book(context.Background(), b.ID, nine, patient("Noor"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if c := svc.Confirmation(context.Background(), bk); c != nil {
		t.Fatalf("no master data yet, got %+v", c)
	}

	repo.SetConfirmationDetails(b.ClinicID, b.DoctorID, Confirmation{ClinicName: "North", DoctorName: "Dr. Iyer", ConsultationFee: 300})
	c := svc.Confirmation(context.Background(), bk)
	if c == nil || c.DoctorName != "Dr. Iyer" || c.ConsultationFee != 300 {
		t.Fatalf("unexpected confirmation: %+v", c)
	}
}
