package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/polly/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
scenarios:
  - id: cafe
    name: Ordering coffee
    level: A2
    assistant_role: Barista at a busy cafe
    student_role: Customer
    opening_line: "Hello! Welcome to the class."
    closing_line: "Have a great day!"
    goals: [order a drink, ask for the price]
    vocabulary: [latte, receipt]
    end_condition: The student has ordered and paid.
    feedback: Comment on politeness.
    scoring: 1 to 10
  - id: airport
    name: Airport check-in
    assistant_role: Check-in agent
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleYAML))
	require.NoError(t, err)

	def, err := c.Get(context.Background(), "cafe")
	require.NoError(t, err)
	assert.Equal(t, "Barista at a busy cafe", def.AssistantRole)
	assert.Equal(t, []string{"order a drink", "ask for the price"}, def.Goals)

	all, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "airport", all[0].ID)

	_, err = c.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := map[string]string{
		"missing role": "scenarios:\n  - id: a\n    name: A\n",
		"bad id":       "scenarios:\n  - id: a b\n    name: A\n    assistant_role: x\n",
		"duplicate": "scenarios:\n  - id: a\n    name: A\n    assistant_role: x\n" +
			"  - id: a\n    name: B\n    assistant_role: y\n",
		"not yaml": "scenarios: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestNewFileCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	c, err := NewFileCatalog(path)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "airport")
	assert.NoError(t, err)

	_, err = NewFileCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestBuildContext_Deterministic(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleYAML))
	require.NoError(t, err)
	def, _ := c.Get(context.Background(), "cafe")

	a := BuildContext(def)
	b := BuildContext(def)
	assert.Equal(t, a, b)
	assert.Equal(t, domain.RoleSystem, a.Role)
	assert.True(t, a.Timestamp.IsZero())

	for _, want := range []string{
		"Your name/role is: Barista at a busy cafe",
		`Always start the conversation exactly with: "Hello! Welcome to the class."`,
		`End the conversation with: "Have a great day!"`,
		"Main goals: order a drink, ask for the price",
		"Student level: A2",
		"Vocabulary to emphasize: latte, receipt",
		"Criteria for ending the conversation: The student has ordered and paid.",
		"6. Use the exact closing line when appropriate",
	} {
		assert.Contains(t, a.Content, want)
	}

	identity := strings.Index(a.Content, "IDENTITY AND ROLE")
	rules := strings.Index(a.Content, "STRICT RULES")
	assert.True(t, identity >= 0 && identity < rules)
}

func TestGreeting(t *testing.T) {
	assert.Equal(t, "Hi there", Greeting(&domain.ScenarioDefinition{OpeningLine: "Hi there"}))
	assert.Equal(t, DefaultGreeting, Greeting(&domain.ScenarioDefinition{OpeningLine: "  "}))
	assert.Contains(t, BuildContext(&domain.ScenarioDefinition{}).Content, "Student level: Unknown")
}

func TestPrompts(t *testing.T) {
	turns := []domain.Turn{
		{Role: domain.RoleSystem, Content: "ctx"},
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, Content: "hi"},
	}
	assert.Equal(t, "system: ctx\nuser: hello\nassistant: hi\n", Transcript(turns))

	end := EndConditionPrompt("student says bye", turns)
	assert.Contains(t, end, "student says bye")
	assert.Contains(t, end, "user: hello")
	assert.True(t, strings.HasSuffix(end, "Answer only 'true' or 'false'."))

	fb := FeedbackPrompt("be kind", "1-10", turns)
	assert.Contains(t, fb, "be kind")
	assert.Contains(t, fb, "1-10")
	assert.Contains(t, fb, "assistant: hi")
	assert.Contains(t, fb, "Areas for improvement")
}
