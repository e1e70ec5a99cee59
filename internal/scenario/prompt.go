package scenario

import (
	"strings"

	"github.com/ashureev/polly/internal/domain"
)

// EndConditionPrompt asks whether the conversation so far satisfies the
// scenario's end criteria. The answer is expected to be a bare true or false.
func EndConditionPrompt(endCondition string, turns []domain.Turn) string {
	var b strings.Builder
	b.WriteString("Based on the following end criteria:\n")
	b.WriteString(endCondition)
	b.WriteString("\n\nAnd considering this conversation:\n")
	b.WriteString(Transcript(turns))
	b.WriteString("\nHave the conditions for ending the conversation been met?\n")
	b.WriteString("Answer only 'true' or 'false'.")
	return b.String()
}

// FeedbackPrompt asks for the final graded evaluation of a conversation.
func FeedbackPrompt(feedback, scoring string, turns []domain.Turn) string {
	var b strings.Builder
	b.WriteString("Based on the following conversation:\n")
	b.WriteString(Transcript(turns))
	b.WriteString("\nAnd considering these feedback criteria:\n")
	b.WriteString(feedback)
	b.WriteString("\n\nAnd this scoring system:\n")
	b.WriteString(scoring)
	b.WriteString("\n\nProvide detailed feedback on the student's performance, including:\n")
	b.WriteString("1. Overall evaluation\n")
	b.WriteString("2. Strengths\n")
	b.WriteString("3. Areas for improvement\n")
	b.WriteString("4. Score according to the scoring system")
	return b.String()
}

// Transcript renders turns as "role: content" lines in order.
func Transcript(turns []domain.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
