package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/lock"
	"github.com/hackgods/clinic-queue-scheduling/internal/telemetry"
)

const mailboxSize = 64

var ErrClosed = errors.New("queue manager closed")

// Bookings is the slice of the booking arbiter the queue depends on.
type Bookings interface {
	ListBookingsForScope(ctx context.Context, scope appointment.Scope) ([]appointment.Booking, error)
	CompleteBooking(ctx context.Context, id uuid.UUID) error
}

// Publisher receives every state change, in the order the scope applied them.
type Publisher interface {
	PublishQueue(ctx context.Context, t Transition)
}

type noopPublisher struct{}

func (noopPublisher) PublishQueue(context.Context, Transition) {}

// Command is one control action from a client. Sequence is the client's own
// monotonically increasing counter; zero disables duplicate suppression.
type Command struct {
	Scope    appointment.Scope
	Action   Action
	ClientID string
	Sequence int64
}

// State is the full queue as seen by clients.
type State struct {
	Scope            appointment.Scope
	Phase            Phase
	ServingIndex     int
	Running          bool
	ServingBookingID *uuid.UUID
	Entries          []Entry
	Version          int64
}

type Transition struct {
	Action  Action
	Outcome Outcome
	State   State
}

// Manager applies queue commands. Each scope has one actor goroutine that
// takes commands in arrival order, and every command additionally holds the
// scope's distributed lock so that several nodes agree on one order.
type Manager struct {
	bookings  Bookings
	cursors   CursorStore
	locker    lock.Locker
	publisher Publisher
	logger    zerolog.Logger
	idle      time.Duration
	timeout   time.Duration

	mu     sync.Mutex
	actors map[string]*actor
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Manager)

func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithIdleTimeout sets how long an actor with no work stays alive.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idle = d }
}

// WithCommandTimeout bounds a single command, lock wait included.
func WithCommandTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func NewManager(bookings Bookings, cursors CursorStore, locker lock.Locker, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		bookings:  bookings,
		cursors:   cursors,
		locker:    locker,
		publisher: noopPublisher{},
		logger:    logger.With().Str("component", "queue").Logger(),
		idle:      time.Minute,
		timeout:   10 * time.Second,
		actors:    make(map[string]*actor),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type actor struct {
	scope   appointment.Scope
	mailbox chan request
	pending int // guarded by Manager.mu
}

type request struct {
	ctx   context.Context
	cmd   *Command // nil asks for a snapshot
	reply chan reply
}

type reply struct {
	t   Transition
	err error
}

// Submit applies cmd and returns the resulting state. If ctx ends while the
// command is queued or running the caller gets ctx.Err(), but a command that
// already reached its actor still completes and is broadcast.
func (m *Manager) Submit(ctx context.Context, cmd Command) (Transition, error) {
	action, err := ParseAction(string(cmd.Action))
	if err != nil {
		return Transition{}, err
	}
	cmd.Action = action
	return m.dispatch(ctx, cmd.Scope, &cmd)
}

// Snapshot returns the current state, ordered after every command submitted
// to this node before it.
func (m *Manager) Snapshot(ctx context.Context, scope appointment.Scope) (State, error) {
	t, err := m.dispatch(ctx, scope, nil)
	return t.State, err
}

// Close stops all actors. Queued commands fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) dispatch(ctx context.Context, scope appointment.Scope, cmd *Command) (Transition, error) {
	a, err := m.enqueue(scope)
	if err != nil {
		return Transition{}, err
	}

	req := request{ctx: ctx, cmd: cmd, reply: make(chan reply, 1)}
	select {
	case a.mailbox <- req:
	case <-ctx.Done():
		m.release(a)
		return Transition{}, ctx.Err()
	case <-m.done:
		m.release(a)
		return Transition{}, ErrClosed
	}

	select {
	case r := <-req.reply:
		return r.t, r.err
	case <-ctx.Done():
		return Transition{}, ctx.Err()
	case <-m.done:
		return Transition{}, ErrClosed
	}
}

func (m *Manager) enqueue(scope appointment.Scope) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	key := scope.String()
	a, ok := m.actors[key]
	if !ok {
		a = &actor{scope: scope, mailbox: make(chan request, mailboxSize)}
		m.actors[key] = a
		m.wg.Add(1)
		go m.run(a)
	}
	a.pending++
	return a, nil
}

func (m *Manager) release(a *actor) {
	m.mu.Lock()
	a.pending--
	m.mu.Unlock()
}

// retire removes an idle actor unless a sender has claimed it meanwhile.
func (m *Manager) retire(a *actor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.pending > 0 {
		return false
	}
	delete(m.actors, a.scope.String())
	return true
}

func (m *Manager) run(a *actor) {
	defer m.wg.Done()

	timer := time.NewTimer(m.idle)
	defer timer.Stop()

	for {
		select {
		case req := <-a.mailbox:
			t, err := m.process(a.scope, req)
			req.reply <- reply{t: t, err: err}
			m.release(a)
			timer.Reset(m.idle)
		case <-timer.C:
			if m.retire(a) {
				return
			}
			timer.Reset(m.idle)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) process(scope appointment.Scope, req request) (Transition, error) {
	// Detached from the caller: once accepted, a command runs to completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.ctx), m.timeout)
	defer cancel()

	var (
		t       Transition
		changed bool
	)
	err := m.locker.WithLock(ctx, lock.ScopeKey(scope.String()), func(lockCtx context.Context) error {
		var err error
		for attempt := 0; ; attempt++ {
			t, changed, err = m.step(lockCtx, scope, req.cmd)
			// The serving booking changed status under us; rebuild once.
			if errors.Is(err, appointment.ErrInvalidStatusTransition) && attempt == 0 {
				continue
			}
			return err
		}
	})

	if req.cmd == nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return t, fmt.Errorf("queue %s busy: %w", scope, appointment.ErrTransient)
		}
		return t, err
	}

	action := string(req.cmd.Action)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		telemetry.QueueCommandsTotal.WithLabelValues(action, "transient").Inc()
		return t, fmt.Errorf("queue %s busy: %w", scope, appointment.ErrTransient)
	case errors.Is(err, ErrInvalidTransition):
		telemetry.QueueCommandsTotal.WithLabelValues(action, "invalid").Inc()
		return t, err
	case err != nil && !errors.Is(err, ErrEmptyQueue):
		telemetry.QueueCommandsTotal.WithLabelValues(action, "error").Inc()
		m.logger.Error().Err(err).Str("scope", scope.String()).Str("action", action).Msg("queue command failed")
		return t, err
	}

	telemetry.QueueCommandsTotal.WithLabelValues(action, string(t.Outcome)).Inc()
	if changed {
		m.publisher.PublishQueue(ctx, t)
	}

	m.logger.Info().
		Str("scope", scope.String()).
		Str("action", action).
		Str("outcome", string(t.Outcome)).
		Str("client_id", req.cmd.ClientID).
		Int("serving_index", t.State.ServingIndex).
		Int64("version", t.State.Version).
		Msg("queue command applied")

	return t, err
}

// step runs one command against freshly loaded state. It reports whether the
// cursor was saved, which is when subscribers must hear about it.
func (m *Manager) step(ctx context.Context, scope appointment.Scope, cmd *Command) (Transition, bool, error) {
	cursor, err := m.cursors.Load(ctx, scope)
	if err != nil {
		return Transition{}, false, fmt.Errorf("load cursor: %w", err)
	}
	bookings, err := m.bookings.ListBookingsForScope(ctx, scope)
	if err != nil {
		return Transition{}, false, fmt.Errorf("load queue bookings: %w", err)
	}

	current := Rebuild(bookings, cursor)
	if cmd == nil {
		return Transition{State: current.State(scope, cursor.Version)}, false, nil
	}

	if cmd.ClientID != "" && cmd.Sequence > 0 && cmd.Sequence <= cursor.ClientSeqs[cmd.ClientID] {
		return Transition{
			Action:  cmd.Action,
			Outcome: OutcomeDuplicate,
			State:   current.State(scope, cursor.Version),
		}, false, nil
	}

	next, res, applyErr := current.Apply(cmd.Action)
	if applyErr != nil && !errors.Is(applyErr, ErrEmptyQueue) {
		return Transition{Action: cmd.Action, State: current.State(scope, cursor.Version)}, false, applyErr
	}

	if res.Complete != nil {
		if err := m.bookings.CompleteBooking(ctx, *res.Complete); err != nil {
			return Transition{}, false, fmt.Errorf("complete booking %s: %w", *res.Complete, err)
		}
	}

	cursor.ServingBookingID = next.ServingBookingID()
	cursor.Running = next.Running()
	cursor.Version++
	if cmd.ClientID != "" && cmd.Sequence > 0 {
		if cursor.ClientSeqs == nil {
			cursor.ClientSeqs = make(map[string]int64)
		}
		cursor.ClientSeqs[cmd.ClientID] = cmd.Sequence
	}
	if err := m.cursors.Save(ctx, scope, cursor); err != nil {
		return Transition{}, false, fmt.Errorf("save cursor: %w", err)
	}

	return Transition{
		Action:  cmd.Action,
		Outcome: res.Outcome,
		State:   next.State(scope, cursor.Version),
	}, true, applyErr
}

func (m Machine) State(scope appointment.Scope, version int64) State {
	return State{
		Scope:            scope,
		Phase:            m.Phase(),
		ServingIndex:     m.ServingIndex(),
		Running:          m.Running(),
		ServingBookingID: m.ServingBookingID(),
		Entries:          m.Entries(),
		Version:          version,
	}
}
