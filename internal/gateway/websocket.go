package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/identity"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
)

const writeTimeout = 5 * time.Second

// Queues is the queue manager as seen by the gateway.
type Queues interface {
	Submit(ctx context.Context, cmd queue.Command) (queue.Transition, error)
	Snapshot(ctx context.Context, scope appointment.Scope) (queue.State, error)
}

// WebSocketHandler serves GET /ws/clinics/{clinicID}/doctors/{doctorID}.
type WebSocketHandler struct {
	hub    *Hub
	queues Queues
	logger zerolog.Logger
	ping   time.Duration
	now    func() time.Time

	originPatterns []string
}

type WebSocketOption func(*WebSocketHandler)

// WithOriginPatterns allows browser pages from other hosts to connect.
// Patterns use path.Match syntax against the Origin host, e.g.
// "*.clinic.example". Same-host pages and clients that send no Origin are
// always accepted.
func WithOriginPatterns(patterns ...string) WebSocketOption {
	return func(h *WebSocketHandler) { h.originPatterns = patterns }
}

func NewWebSocketHandler(hub *Hub, queues Queues, logger zerolog.Logger, ping time.Duration, opts ...WebSocketOption) *WebSocketHandler {
	if ping <= 0 {
		ping = 15 * time.Second
	}
	h := &WebSocketHandler{
		hub:    hub,
		queues: queues,
		logger: logger.With().Str("component", "gateway_ws").Logger(),
		ping:   ping,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type wsCommand struct {
	Action         string `json:"action"`
	ClientID       string `json:"client_id,omitempty"`
	ClientSequence int64  `json:"client_sequence,omitempty"`
	Date           string `json:"date,omitempty"`
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clinicID, err := uuid.Parse(chi.URLParam(r, "clinicID"))
	if err != nil {
		http.Error(w, "invalid clinic id", http.StatusBadRequest)
		return
	}
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		http.Error(w, "invalid doctor id", http.StatusBadRequest)
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.now().Format(appointment.DateLayout)
	} else if _, err := time.Parse(appointment.DateLayout, date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	caller := identity.FromContext(r.Context())
	// Sequences restart on every connection, so duplicates are tracked per
	// connection unless the client names a stable client_id itself.
	connID := uuid.NewString()

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Join before the snapshot so nothing falls between the two; the
	// client drops queue events older than the snapshot version.
	sub := h.hub.Join(ChannelKey{ClinicID: clinicID, DoctorID: doctorID})
	defer sub.Close()

	ctx := r.Context()
	scope := appointment.Scope{ClinicID: clinicID, DoctorID: doctorID, Date: date}

	log := h.logger.With().
		Str("channel", sub.Key().String()).
		Str("conn_id", connID).
		Str("user_id", caller.UserID).
		Logger()
	log.Debug().Str("date", date).Msg("websocket connected")

	if err := h.sendSnapshot(ctx, conn, scope); err != nil {
		log.Error().Err(err).Msg("failed to send initial snapshot")
		conn.Close(ws.StatusInternalError, "snapshot failed")
		return
	}

	done := make(chan struct{})
	commandCh := make(chan wsCommand, 16)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) != ws.StatusNormalClosure {
					log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}

			var cmd wsCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				log.Warn().Err(err).Msg("invalid websocket message")
				continue
			}

			select {
			case commandCh <- cmd:
			default:
				log.Warn().Str("action", cmd.Action).Msg("command channel full, dropping message")
			}
		}
	}()

	pingTicker := time.NewTicker(h.ping)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			ping := Event{Type: EventPing, ClinicID: clinicID, DoctorID: doctorID, Timestamp: h.now()}
			if err := h.write(ctx, conn, ping); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(ws.StatusNormalClosure, "channel closed")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				log.Debug().Err(err).Msg("send event failed")
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}

		case <-sub.Resync():
			if err := h.sendSnapshot(ctx, conn, scope); err != nil {
				log.Error().Err(err).Msg("resync snapshot failed")
				conn.Close(ws.StatusInternalError, "snapshot failed")
				return
			}

		case cmd := <-commandCh:
			if err := h.handleCommand(ctx, conn, caller, connID, scope, cmd); err != nil {
				log.Debug().Err(err).Msg("send command reply failed")
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleCommand(ctx context.Context, conn *ws.Conn, caller identity.Caller, clientID string, scope appointment.Scope, cmd wsCommand) error {
	fail := func(code, msg string) error {
		return h.write(ctx, conn, Event{
			Type:      EventError,
			ClinicID:  scope.ClinicID,
			DoctorID:  scope.DoctorID,
			Date:      scope.Date,
			Timestamp: h.now(),
			Error: &ErrorPayload{
				Action:         cmd.Action,
				ClientSequence: cmd.ClientSequence,
				Code:           code,
				Message:        msg,
			},
		})
	}

	if !caller.IsStaff() {
		return fail("forbidden", "only assistants, doctors and admins may control the queue")
	}

	action, err := queue.ParseAction(cmd.Action)
	if err != nil {
		return fail("invalid_action", err.Error())
	}

	if cmd.Date != "" {
		if _, err := time.Parse(appointment.DateLayout, cmd.Date); err != nil {
			return fail("validation_error", "date must be YYYY-MM-DD")
		}
		scope.Date = cmd.Date
	}
	if cmd.ClientID != "" {
		clientID = cmd.ClientID
	}

	t, err := h.queues.Submit(ctx, queue.Command{
		Scope:    scope,
		Action:   action,
		ClientID: clientID,
		Sequence: cmd.ClientSequence,
	})
	if err != nil && !errors.Is(err, queue.ErrEmptyQueue) {
		h.logger.Debug().Err(err).Str("action", cmd.Action).Msg("queue command rejected")
		return fail(ErrorCode(err), err.Error())
	}

	return h.write(ctx, conn, Event{
		Type:      EventCommandResult,
		ClinicID:  scope.ClinicID,
		DoctorID:  scope.DoctorID,
		Date:      scope.Date,
		Version:   t.State.Version,
		Timestamp: h.now(),
		Result: &CommandResult{
			Action:         string(action),
			ClientSequence: cmd.ClientSequence,
			Outcome:        t.Outcome,
		},
	})
}

func (h *WebSocketHandler) sendSnapshot(ctx context.Context, conn *ws.Conn, scope appointment.Scope) error {
	state, err := h.queues.Snapshot(ctx, scope)
	if err != nil {
		return err
	}
	return h.write(ctx, conn, SnapshotEvent(state, h.now()))
}

func (h *WebSocketHandler) write(ctx context.Context, conn *ws.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, ws.MessageText, data)
}

// ErrorCode maps queue and arbiter errors to the stable codes clients see.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, queue.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, queue.ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, queue.ErrEmptyQueue):
		return "empty_queue"
	case errors.Is(err, appointment.ErrTransient):
		return "transient"
	case errors.Is(err, appointment.ErrValidation):
		return "validation_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	return "internal_error"
}
