// Package agent adapts language-model backends to the tutoring engine.
package agent

import (
	"context"
	"strings"

	"github.com/ashureev/polly/internal/domain"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// MessagesFromTurns converts history turns into model messages.
func MessagesFromTurns(turns []domain.Turn) []Message {
	out := make([]Message, len(turns))
	for i, t := range turns {
		out[i] = Message{Role: t.Role, Content: t.Content}
	}
	return out
}

// Client defines the interface for language-model access.
// Implemented by OpenAIClient and GrpcClient.
type Client interface {
	// Complete returns the assistant reply for a conversation window.
	Complete(ctx context.Context, messages []Message) (string, error)

	// Classify answers a yes/no prompt.
	Classify(ctx context.Context, prompt string) (bool, error)
}

// ParseVerdict interprets a model's bare true/false answer.
// Anything other than "true" is false.
func ParseVerdict(text string) bool {
	v := strings.ToLower(strings.TrimSpace(text))
	v = strings.TrimRight(v, ".!\"' ")
	v = strings.TrimLeft(v, "\"' ")
	return v == "true"
}

// Ensure adapters implement Client.
var (
	_ Client = (*GrpcClient)(nil)
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*Service)(nil)
)
