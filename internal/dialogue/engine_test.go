package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/polly/internal/agent/agenttest"
	"github.com/ashureev/polly/internal/domain"
	"github.com/ashureev/polly/internal/scenario"
	"github.com/ashureev/polly/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var classDef = &domain.ScenarioDefinition{
	ID:            "class",
	Name:          "First class",
	AssistantRole: "Teacher",
	OpeningLine:   "Hello! Welcome to the class.",
	EndCondition:  "The student said goodbye.",
	Feedback:      "Be encouraging.",
	Scoring:       "1-10",
}

var key = domain.ConversationKey{ScenarioID: "class", StudentID: "alice"}

func newEngine(t *testing.T, fake *agenttest.Fake) (*Engine, *store.MemoryStore) {
	t.Helper()
	ts := store.NewMemory()
	return NewEngine(ts, fake, Config{Window: 10, CallTimeout: time.Second}), ts
}

func TestOpen_SeedsNewHistory(t *testing.T) {
	eng, ts := newEngine(t, agenttest.New())
	ctx := context.Background()

	s, events, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.MessageTypeAssistant, events[0].MessageType)
	assert.Equal(t, "Hello! Welcome to the class.", events[0].Message)
	assert.False(t, events[0].CanEnd)
	assert.Equal(t, domain.PhaseActive, s.Phase())

	h, err := ts.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 2, h.Len())
	assert.Equal(t, domain.RoleSystem, h.Turns[0].Role)
	assert.Equal(t, scenario.BuildContext(classDef).Content, h.Turns[0].Content)
	assert.Equal(t, domain.KindGreeting, h.Turns[1].Kind)
}

func TestOpen_ResumesWithoutGreeting(t *testing.T) {
	eng, ts := newEngine(t, agenttest.New())
	ctx := context.Background()

	s1, _, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)
	_, err = eng.Handle(ctx, s1, Input{Text: "hi"})
	require.NoError(t, err)

	s2, events, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 4, s2.Len())
	assert.Equal(t, domain.PhaseActive, s2.Phase())

	h, _ := ts.Get(ctx, key)
	assert.Equal(t, s1.Turns(), h.Turns)
}

func TestOpen_ConcurrentOpensSeedOnce(t *testing.T) {
	eng, ts := newEngine(t, agenttest.New())
	ctx := context.Background()

	const tabs = 8
	greetings := make(chan int, tabs)
	var wg sync.WaitGroup
	for i := 0; i < tabs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, events, err := eng.Open(ctx, key, classDef)
			assert.NoError(t, err)
			greetings <- len(events)
		}()
	}
	wg.Wait()
	close(greetings)

	total := 0
	for n := range greetings {
		total += n
	}
	assert.Equal(t, 1, total)

	h, err := ts.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Len())
}

func TestHandle_ReplyAppendsExchange(t *testing.T) {
	fake := agenttest.New("Nice to meet you")
	fake.SetVerdict(true)
	eng, ts := newEngine(t, fake)
	ctx := context.Background()
	s, _, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)

	events, err := eng.Handle(ctx, s, Input{Text: "Hi, I'm Alice"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.AssistantEvent("Nice to meet you", true), events[0])
	assert.Equal(t, domain.PhaseActive, s.Phase(), "can_end is advisory")

	h, _ := ts.Get(ctx, key)
	require.Equal(t, 4, h.Len())
	assert.Equal(t, domain.RoleUser, h.Turns[2].Role)
	assert.Equal(t, "Hi, I'm Alice", h.Turns[2].Content)
	assert.Equal(t, "Nice to meet you", h.Turns[3].Content)

	prompts := fake.ClassifyCalls()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "The student said goodbye.")
	assert.Contains(t, prompts[0], "assistant: Nice to meet you")
}

func TestHandle_WindowingAsymmetry(t *testing.T) {
	fake := agenttest.New()
	eng, _ := newEngine(t, fake)
	ctx := context.Background()
	s, _, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := eng.Handle(ctx, s, Input{Text: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}
	require.Equal(t, 18, s.Len())

	calls := fake.CompleteCalls()
	last := calls[len(calls)-1]
	require.Len(t, last, 10)
	assert.Equal(t, domain.RoleSystem, last[0].Role)
	assert.Equal(t, "msg 7", last[9].Content)

	prompts := fake.ClassifyCalls()
	final := prompts[len(prompts)-1]
	for _, turn := range s.Turns() {
		assert.Contains(t, final, turn.Content)
	}
	assert.Contains(t, final, "msg 0")
}

func TestHandle_ModelFailureLeavesHistory(t *testing.T) {
	fake := agenttest.New()
	eng, ts := newEngine(t, fake)
	ctx := context.Background()
	s, _, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)

	fake.FailComplete(errors.New("timeout"))
	_, err = eng.Handle(ctx, s, Input{Text: "hello"})
	var mce *domain.ModelCallError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, "complete", mce.Op)

	fake.FailComplete(nil)
	fake.FailClassify(errors.New("classifier down"))
	_, err = eng.Handle(ctx, s, Input{Text: "hello"})
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, "classify", mce.Op)

	h, _ := ts.Get(ctx, key)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, domain.PhaseActive, s.Phase())

	fake.FailClassify(nil)
	_, err = eng.Handle(ctx, s, Input{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())
}

func TestHandle_CallTimeout(t *testing.T) {
	fake := agenttest.New()
	fake.Gate = make(chan struct{})
	ts := store.NewMemory()
	eng := NewEngine(ts, fake, Config{CallTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	s, _, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)

	_, err = eng.Handle(ctx, s, Input{Text: "hello"})
	var mce *domain.ModelCallError
	require.ErrorAs(t, err, &mce)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandle_EndFlow(t *testing.T) {
	fake := agenttest.New("Great, bye!", "Score: 9/10")
	eng, ts := newEngine(t, fake)
	ctx := context.Background()
	s, _, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)
	_, err = eng.Handle(ctx, s, Input{Text: "Goodbye"})
	require.NoError(t, err)

	events, err := eng.Handle(ctx, s, Input{Text: "bye", EndRequested: true})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.MessageTypeFeedback, events[0].MessageType)
	assert.Equal(t, "Score: 9/10", events[0].Message)
	assert.True(t, events[0].CanEnd)
	assert.Equal(t, domain.PhaseEnded, s.Phase())

	calls := fake.CompleteCalls()
	feedbackCall := calls[len(calls)-1]
	require.Len(t, feedbackCall, 1)
	assert.Contains(t, feedbackCall[0].Content, "user: Goodbye")
	assert.Contains(t, feedbackCall[0].Content, "Be encouraging.")

	h, _ := ts.Get(ctx, key)
	require.Equal(t, 5, h.Len())
	assert.True(t, h.Turns[4].IsFeedback())
	for _, turn := range h.Turns {
		assert.NotEqual(t, "bye", turn.Content, "end request text is not a turn")
	}

	for _, in := range []Input{{Text: "hi"}, {Text: "bye", EndRequested: true}} {
		_, err = eng.Handle(ctx, s, in)
		assert.ErrorIs(t, err, domain.ErrSessionClosed)
	}
	h, _ = ts.Get(ctx, key)
	assert.Equal(t, 5, h.Len())
}

func TestHandle_FeedbackFailureStaysEnding(t *testing.T) {
	fake := agenttest.New()
	eng, ts := newEngine(t, fake)
	ctx := context.Background()
	s, _, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)

	fake.FailComplete(errors.New("down"))
	_, err = eng.Handle(ctx, s, Input{EndRequested: true})
	var mce *domain.ModelCallError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, "feedback", mce.Op)
	assert.Equal(t, domain.PhaseEnding, s.Phase())

	_, err = eng.Handle(ctx, s, Input{Text: "still there?"})
	assert.ErrorIs(t, err, domain.ErrSessionEnding)

	fake.FailComplete(nil)
	events, err := eng.Handle(ctx, s, Input{EndRequested: true})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeFeedback, events[0].MessageType)
	assert.Equal(t, domain.PhaseEnded, s.Phase())

	h, _ := ts.Get(ctx, key)
	assert.Equal(t, 3, h.Len())
}

func TestHandle_ReconcilesWithOtherSessions(t *testing.T) {
	eng, _ := newEngine(t, agenttest.New())
	ctx := context.Background()
	a, _, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)
	b, events, err := eng.Open(ctx, key, classDef)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = eng.Handle(ctx, a, Input{Text: "from a"})
	require.NoError(t, err)
	_, err = eng.Handle(ctx, b, Input{Text: "from b"})
	require.NoError(t, err)

	assert.Equal(t, 6, b.Len())
	assert.Equal(t, "from a", b.Turns()[2].Content)
	assert.Equal(t, "from b", b.Turns()[4].Content)
}

func TestWindow(t *testing.T) {
	turns := make([]domain.Turn, 12)
	for i := range turns {
		turns[i].Content = fmt.Sprint(i)
	}

	w := Window(turns, 10)
	require.Len(t, w, 10)
	assert.Equal(t, "0", w[0].Content)
	assert.Equal(t, "3", w[1].Content)
	assert.Equal(t, "11", w[9].Content)

	assert.Len(t, Window(turns[:10], 10), 10)
	assert.Len(t, Window(turns[:3], 10), 3)
	assert.Equal(t, "0", turns[0].Content)
}
