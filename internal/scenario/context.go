package scenario

import (
	"strconv"
	"strings"

	"github.com/ashureev/polly/internal/domain"
)

// DefaultGreeting is used when a scenario has no opening line.
const DefaultGreeting = "Hello! Welcome to our conversation."

const unknownLevel = "Unknown"

// BuildContext renders the system turn placed at the head of every new history.
// Output depends only on def; the timestamp is left zero for the caller to set.
func BuildContext(def *domain.ScenarioDefinition) domain.Turn {
	return domain.Turn{Role: domain.RoleSystem, Content: contextText(def)}
}

// Greeting returns the scenario's mandated opening line.
func Greeting(def *domain.ScenarioDefinition) string {
	if s := strings.TrimSpace(def.OpeningLine); s != "" {
		return def.OpeningLine
	}
	return DefaultGreeting
}

func contextText(def *domain.ScenarioDefinition) string {
	level := def.Level
	if strings.TrimSpace(level) == "" {
		level = unknownLevel
	}

	var b strings.Builder
	b.WriteString("You are a language tutor with the following characteristics:\n\n")

	section(&b, "IDENTITY AND ROLE",
		"Your name/role is: "+def.AssistantRole,
		"Keep this role consistently for the whole conversation",
		`Always start the conversation exactly with: "`+Greeting(def)+`"`,
		`End the conversation with: "`+def.ClosingLine+`"`,
	)
	section(&b, "CONVERSATION GOALS",
		"Main goals: "+list(def.Goals),
		"Specific objectives: "+list(def.Objectives),
	)
	section(&b, "STUDENT CONTEXT",
		"The student plays: "+def.StudentRole,
		"Student level: "+level,
		"Relevant student information: "+def.StudentInformation,
	)
	section(&b, "LINGUISTIC CONTENT",
		"Vocabulary to emphasize: "+list(def.Vocabulary),
		"Key expressions to use: "+list(def.KeyExpressions),
	)
	section(&b, "INTERACTION GUIDELINES",
		"Scenario description: "+def.Description,
		"Criteria for ending the conversation: "+def.EndCondition,
		"Feedback: "+def.Feedback,
		"Scoring system: "+def.Scoring,
	)

	b.WriteString("STRICT RULES:\n")
	for i, rule := range strictRules {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(rule)
		b.WriteByte('\n')
	}
	b.WriteString("\nAdditional information: ")
	b.WriteString(def.AdditionalInfo)
	return b.String()
}

var strictRules = []string{
	"ALWAYS start with the exact greeting specified",
	"Keep the role and personality consistent",
	"Use the specified vocabulary and expressions",
	"Give feedback according to the established criteria",
	"End the conversation only under the specified conditions",
	"Use the exact closing line when appropriate",
}

func section(b *strings.Builder, title string, lines ...string) {
	b.WriteString(title)
	b.WriteString(":\n")
	for _, l := range lines {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func list(items []string) string {
	return strings.Join(items, ", ")
}
