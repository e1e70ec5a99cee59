// Package dialogue implements the per-connection conversation state machine.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/polly/internal/agent"
	"github.com/ashureev/polly/internal/domain"
	"github.com/ashureev/polly/internal/scenario"
	"github.com/ashureev/polly/internal/store"
)

// Config tunes the engine.
type Config struct {
	// Window caps the turns sent to Complete, system turn included.
	Window int
	// CallTimeout bounds each model call.
	CallTimeout time.Duration
	// Now stamps new turns.
	Now func() time.Time
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Window:      10,
		CallTimeout: 60 * time.Second,
		Now:         time.Now,
	}
}

// Engine runs dialogue transitions against a TurnStore and a model Client.
// An Engine is shared; a Session is owned by exactly one goroutine.
type Engine struct {
	store   store.TurnStore
	model   agent.Client
	cfg     Config
	opening *store.KeyLock
}

// NewEngine creates an engine. Zero config fields take their defaults.
func NewEngine(ts store.TurnStore, model agent.Client, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Window < 2 {
		cfg.Window = def.Window
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Engine{store: ts, model: model, cfg: cfg, opening: store.NewKeyLock()}
}

// Input is one decoded inbound frame.
type Input struct {
	Text         string
	EndRequested bool
}

// Open runs the connect transition. A new or empty history is seeded with
// the scenario context and the greeting, and the greeting is returned as the
// only event. An existing history is adopted silently. Opens for one key are
// serialized so concurrent connections seed at most once.
func (e *Engine) Open(ctx context.Context, key domain.ConversationKey, def *domain.ScenarioDefinition) (*Session, []domain.Event, error) {
	unlock := e.opening.Lock(key)
	defer unlock()

	h, created, err := e.store.Load(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	s := &Session{Key: key, Scenario: def, history: h.Turns, phase: domain.PhaseActive}
	if !created && h.Len() > 0 {
		slog.Info("Resumed conversation", "scenario_id", key.ScenarioID, "student_id", key.StudentID, "turns", h.Len())
		return s, nil, nil
	}

	now := e.cfg.Now()
	system := scenario.BuildContext(def)
	system.Timestamp = now
	greeting := domain.Turn{
		Role:      domain.RoleAssistant,
		Kind:      domain.KindGreeting,
		Content:   scenario.Greeting(def),
		Timestamp: now,
	}
	h, err = e.store.Append(ctx, key, system, greeting)
	if err != nil {
		return nil, nil, err
	}
	s.history = h.Turns

	slog.Info("Started conversation", "scenario_id", key.ScenarioID, "student_id", key.StudentID)
	return s, []domain.Event{domain.AssistantEvent(greeting.Content, false)}, nil
}

// Handle runs one inbound frame through the state machine and returns the
// events to broadcast. On error nothing was persisted and the phase is unchanged,
// except that a failed feedback attempt leaves the session in ENDING.
func (e *Engine) Handle(ctx context.Context, s *Session, in Input) ([]domain.Event, error) {
	switch s.phase {
	case domain.PhaseEnded:
		return nil, domain.ErrSessionClosed
	case domain.PhaseEnding:
		if !in.EndRequested {
			return nil, domain.ErrSessionEnding
		}
		return e.finish(ctx, s)
	}

	if in.EndRequested {
		s.advance(domain.PhaseEnding)
		return e.finish(ctx, s)
	}
	return e.reply(ctx, s, in.Text)
}

func (e *Engine) reply(ctx context.Context, s *Session, text string) ([]domain.Event, error) {
	user := domain.Turn{Role: domain.RoleUser, Content: text, Timestamp: e.cfg.Now()}
	full := append(s.Turns(), user)

	answer, err := e.complete(ctx, "complete", agent.MessagesFromTurns(Window(full, e.cfg.Window)))
	if err != nil {
		return nil, err
	}
	assistant := domain.Turn{Role: domain.RoleAssistant, Content: answer, Timestamp: e.cfg.Now()}
	full = append(full, assistant)

	canEnd, err := e.classify(ctx, scenario.EndConditionPrompt(s.Scenario.EndCondition, full))
	if err != nil {
		return nil, err
	}

	h, err := e.store.Append(ctx, s.Key, user, assistant)
	if err != nil {
		return nil, err
	}
	s.history = h.Turns

	return []domain.Event{domain.AssistantEvent(answer, canEnd)}, nil
}

func (e *Engine) finish(ctx context.Context, s *Session) ([]domain.Event, error) {
	prompt := scenario.FeedbackPrompt(s.Scenario.Feedback, s.Scenario.Scoring, s.history)
	text, err := e.complete(ctx, "feedback", []agent.Message{{Role: domain.RoleUser, Content: prompt}})
	if err != nil {
		return nil, err
	}

	feedback := domain.Turn{
		Role:      domain.RoleAssistant,
		Kind:      domain.KindFeedback,
		Content:   text,
		Timestamp: e.cfg.Now(),
	}
	h, err := e.store.Append(ctx, s.Key, feedback)
	if err != nil {
		return nil, err
	}
	s.history = h.Turns
	s.advance(domain.PhaseEnded)

	slog.Info("Conversation ended", "scenario_id", s.Key.ScenarioID, "student_id", s.Key.StudentID, "turns", len(s.history))
	return []domain.Event{domain.FeedbackEvent(text)}, nil
}

func (e *Engine) complete(ctx context.Context, op string, messages []agent.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	text, err := e.model.Complete(ctx, messages)
	if err != nil {
		return "", &domain.ModelCallError{Op: op, Err: err}
	}
	return text, nil
}

func (e *Engine) classify(ctx context.Context, prompt string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	ok, err := e.model.Classify(ctx, prompt)
	if err != nil {
		return false, &domain.ModelCallError{Op: "classify", Err: err}
	}
	return ok, nil
}

// Window returns the turns sent for a conversational reply: the first turn
// plus the most recent size-1 turns. Histories within size are returned whole.
func Window(turns []domain.Turn, size int) []domain.Turn {
	if size < 2 || len(turns) <= size {
		return turns
	}
	out := make([]domain.Turn, 0, size)
	out = append(out, turns[0])
	return append(out, turns[len(turns)-(size-1):]...)
}

// Session is one connection's in-memory view of a conversation.
type Session struct {
	Key      domain.ConversationKey
	Scenario *domain.ScenarioDefinition

	history []domain.Turn
	phase   domain.Phase
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() domain.Phase {
	return s.phase
}

// Len returns the number of turns in the working copy.
func (s *Session) Len() int {
	return len(s.history)
}

// Turns returns a copy of the working history.
func (s *Session) Turns() []domain.Turn {
	return append([]domain.Turn(nil), s.history...)
}

func (s *Session) advance(next domain.Phase) {
	if !s.phase.CanAdvanceTo(next) {
		panic(fmt.Sprintf("dialogue: phase %s cannot move to %s", s.phase, next))
	}
	if s.phase != next {
		slog.Debug("Phase transition", "scenario_id", s.Key.ScenarioID, "student_id", s.Key.StudentID, "from", s.phase, "to", next)
	}
	s.phase = next
}
