// Package chat serves tutoring conversations over WebSocket.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/polly/internal/convlog"
	"github.com/ashureev/polly/internal/dialogue"
	"github.com/ashureev/polly/internal/domain"
	"github.com/ashureev/polly/internal/room"
	"github.com/ashureev/polly/internal/scenario"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// ErrBackpressure is reported when a connection's inbound queue is full.
var ErrBackpressure = errors.New("inbound queue full")

var errMalformedID = errors.New("malformed identifier")

// Client-facing error messages.
const (
	msgBackpressure   = "Too many messages at once. Please wait for a reply before sending more."
	msgSessionClosed  = "This conversation has concluded. Reconnect to keep practicing."
	msgSessionEnding  = "Your feedback is being prepared. Send end_conversation again to retry."
	msgModelFailure   = "Sorry, I could not generate a response. Please try again."
	msgPersistFailure = "Sorry, your message could not be saved. Please try again."
	msgInternal       = "Something went wrong. Please try again."
	msgMalformed      = "Invalid message: "
)

const maxFrameBytes = 1 << 16

// Config tunes the WebSocket handler.
type Config struct {
	QueueDepth    int
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	AllowedOrigin string
	IsDev         bool
}

// DefaultConfig returns default handler configuration.
func DefaultConfig() Config {
	return Config{
		QueueDepth:   16,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Handler owns the lifecycle of tutoring connections.
type Handler struct {
	catalog scenario.Catalog
	engine  *dialogue.Engine
	rooms   *room.Registry
	rec     convlog.Recorder
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

// NewHandler creates a new WebSocket handler.
func NewHandler(catalog scenario.Catalog, engine *dialogue.Engine, rooms *room.Registry, rec convlog.Recorder, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if rec == nil {
		rec = convlog.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{catalog: catalog, engine: engine, rooms: rooms, rec: rec, cfg: cfg, ctx: ctx, cancel: cancel}
}

// Close refuses new connections, ends every open connection's read loop and
// waits until in-flight exchanges are persisted or ctx expires. Queued messages
// that have not started are dropped.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for chat sessions: %w", ctx.Err())
	}
}

// track registers one session with Close. It reports false once Close has begun.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.active.Add(1)
	return true
}

// Routes registers the chat endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws/chat/{scenarioID}/{studentID}", h.ServeConversation)
	r.Get("/ws/chat/{roomName}", h.ServeLegacyRoom)
}

// target is a resolved connection request.
type target struct {
	key  domain.ConversationKey
	room domain.RoomKey
	def  *domain.ScenarioDefinition
}

// ServeConversation handles /ws/chat/{scenarioID}/{studentID}.
func (h *Handler) ServeConversation(w http.ResponseWriter, r *http.Request) {
	scenarioID := chi.URLParam(r, "scenarioID")
	studentID := chi.URLParam(r, "studentID")
	if !domain.ValidID(studentID) {
		h.reject(w, &domain.ResolutionError{Field: "student", ID: studentID, Err: errMalformedID})
		return
	}
	def, err := h.resolveScenario(r.Context(), scenarioID)
	if err != nil {
		h.reject(w, err)
		return
	}
	key := domain.ConversationKey{ScenarioID: scenarioID, StudentID: studentID}
	h.serve(w, r, target{key: key, room: domain.RoomFor(key), def: def})
}

// ServeLegacyRoom handles /ws/chat/{roomName}?scenario_id=ID.
func (h *Handler) ServeLegacyRoom(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "roomName")
	if !domain.ValidID(roomName) {
		h.reject(w, &domain.ResolutionError{Field: "room", ID: roomName, Err: errMalformedID})
		return
	}
	scenarioID := r.URL.Query().Get("scenario_id")
	def, err := h.resolveScenario(r.Context(), scenarioID)
	if err != nil {
		h.reject(w, err)
		return
	}
	h.serve(w, r, target{
		key:  domain.LegacyConversationKey(scenarioID, roomName),
		room: domain.NamedRoom(scenarioID, roomName),
		def:  def,
	})
}

func (h *Handler) resolveScenario(ctx context.Context, id string) (*domain.ScenarioDefinition, error) {
	if !domain.ValidID(id) {
		return nil, &domain.ResolutionError{Field: "scenario", ID: id, Err: errMalformedID}
	}
	def, err := h.catalog.Get(ctx, id)
	if err != nil {
		return nil, &domain.ResolutionError{Field: "scenario", ID: id, Err: err}
	}
	return def, nil
}

func (h *Handler) reject(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errMalformedID):
		status = http.StatusBadRequest
	case errors.Is(err, scenario.ErrNotFound):
		status = http.StatusNotFound
	}
	slog.Warn("Chat connection rejected", "status", status, "error", err)
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, t target) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if !h.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.active.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "scenario_id", t.key.ScenarioID, "student_id", t.key.StudentID)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	conn := newConnection(ws, h.cfg.WriteTimeout, h.cfg.PingInterval)
	log := slog.With("scenario_id", t.key.ScenarioID, "student_id", t.key.StudentID, "room", t.room.String(), "conn_id", conn.id)
	log.Info("Chat connection opened", "ip", r.RemoteAddr)

	// Engine work must outlive the client so a disconnect never abandons a write.
	work := context.WithoutCancel(r.Context())

	sess, events, err := h.engine.Open(work, t.key, t.def)
	if err != nil {
		log.Error("Failed to open conversation", "error", err)
		if werr := conn.writeNow(work, domain.ErrorEvent(msgPersistFailure)); werr != nil {
			log.Debug("Failed to send open error", "error", werr)
		}
		conn.Close(websocket.StatusInternalError, "history unavailable")
		return
	}

	conn.start()
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	if err := h.rooms.Join(t.room, conn); err != nil {
		log.Error("Failed to join room", "error", err)
		return
	}
	defer h.rooms.Leave(t.room, conn)

	h.record(t, conn, convlog.Outbound, convlog.EventSessionOpen, "", map[string]any{"turns": sess.Len()})
	for _, ev := range events {
		h.reply(work, conn, t, ev)
	}

	readCtx, cancel := context.WithCancel(work)
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()
	inbox := make(chan dialogue.Input, h.cfg.QueueDepth)
	go func() {
		defer cancel()
		h.readLoop(readCtx, conn, t, inbox, log)
	}()
	h.processLoop(readCtx, work, conn, sess, t, inbox, log)

	h.record(t, conn, convlog.Outbound, convlog.EventSessionClose, "", map[string]any{"phase": sess.Phase().String(), "turns": sess.Len()})
	log.Info("Chat connection closed", "phase", sess.Phase().String())
}

func (h *Handler) readLoop(ctx context.Context, conn *connection, t target, inbox chan<- dialogue.Input, log *slog.Logger) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				log.Debug("WebSocket closed by client")
			} else {
				log.Debug("WebSocket read error", "error", err)
			}
			return
		}

		in, err := decodeFrame(data)
		if err != nil {
			var mie *domain.MalformedInputError
			reason := "unreadable frame"
			if errors.As(err, &mie) {
				reason = mie.Reason
			}
			log.Info("Malformed frame", "error", err)
			h.reply(ctx, conn, t, domain.ErrorEvent(msgMalformed+reason))
			continue
		}

		frameType := FrameMessage
		if in.EndRequested {
			frameType = FrameEndConversation
		}
		h.record(t, conn, convlog.Inbound, convlog.EventUserMessage, in.Text, map[string]any{"type": frameType})

		if err := enqueue(inbox, in); err != nil {
			log.Warn("Dropping message", "error", err, "queue_depth", cap(inbox))
			h.reply(ctx, conn, t, domain.ErrorEvent(msgBackpressure))
		}
	}
}

func enqueue(inbox chan<- dialogue.Input, in dialogue.Input) error {
	select {
	case inbox <- in:
		return nil
	default:
		return ErrBackpressure
	}
}

func (h *Handler) processLoop(readCtx, work context.Context, conn *connection, sess *dialogue.Session, t target, inbox <-chan dialogue.Input, log *slog.Logger) {
	for {
		select {
		case <-readCtx.Done():
			return
		case in := <-inbox:
			if readCtx.Err() != nil {
				return
			}
			events, err := h.engine.Handle(work, sess, in)
			h.deliver(work, conn, t, events, err, log)
		}
	}
}

// deliver maps one engine result to outbound events: replies and shared
// failures go to the room, per-sender conditions only to conn.
func (h *Handler) deliver(ctx context.Context, conn *connection, t target, events []domain.Event, err error, log *slog.Logger) {
	if err == nil {
		for _, ev := range events {
			h.rooms.Broadcast(ctx, t.room, ev)
			h.recordEvent(t, conn, ev)
		}
		return
	}

	var (
		mce *domain.ModelCallError
		pe  *domain.PersistenceError
	)
	switch {
	case errors.Is(err, domain.ErrSessionClosed):
		h.reply(ctx, conn, t, domain.ErrorEvent(msgSessionClosed))
	case errors.Is(err, domain.ErrSessionEnding):
		h.reply(ctx, conn, t, domain.ErrorEvent(msgSessionEnding))
	case errors.As(err, &mce):
		log.Warn("Model call failed", "op", mce.Op, "error", err)
		h.broadcastError(ctx, conn, t, msgModelFailure, err)
	case errors.As(err, &pe):
		log.Error("Persistence failed", "op", pe.Op, "error", err)
		h.broadcastError(ctx, conn, t, msgPersistFailure, err)
	default:
		log.Error("Unexpected dialogue error", "error", err)
		h.broadcastError(ctx, conn, t, msgInternal, err)
	}
}

func (h *Handler) reply(ctx context.Context, conn *connection, t target, ev domain.Event) {
	_ = h.rooms.Send(ctx, t.room, conn, ev)
	h.recordEvent(t, conn, ev)
}

func (h *Handler) broadcastError(ctx context.Context, conn *connection, t target, msg string, cause error) {
	ev := domain.ErrorEvent(msg)
	h.rooms.Broadcast(ctx, t.room, ev)
	h.record(t, conn, convlog.Outbound, convlog.EventError, msg, map[string]any{"cause": fmt.Sprint(cause)})
}

func (h *Handler) recordEvent(t target, conn *connection, ev domain.Event) {
	kind := convlog.EventAssistantMessage
	switch ev.MessageType {
	case domain.MessageTypeFeedback:
		kind = convlog.EventFeedback
	case domain.MessageTypeError:
		kind = convlog.EventError
	}
	h.record(t, conn, convlog.Outbound, kind, ev.Message, map[string]any{"can_end": ev.CanEnd})
}

func (h *Handler) record(t target, conn *connection, direction, kind, content string, meta map[string]any) {
	h.rec.Log(convlog.Event{
		ScenarioID: t.key.ScenarioID,
		StudentID:  t.key.StudentID,
		ConnID:     conn.id,
		Room:       t.room.String(),
		Direction:  direction,
		EventType:  kind,
		ContentRaw: content,
		Meta:       meta,
	})
}
