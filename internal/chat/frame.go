package chat

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/ashureev/polly/internal/dialogue"
	"github.com/ashureev/polly/internal/domain"
	"github.com/ashureev/polly/internal/shared"
)

// Frame types.
const (
	FrameMessage         = "message"
	FrameEndConversation = "end_conversation"
)

// frame is the inbound wire message.
type frame struct {
	Message *string `json:"message" validate:"required"`
	Type    string  `json:"type" validate:"omitempty,oneof=message end_conversation"`
}

var errEmptyMessage = errors.New("message cannot be empty")

// decodeFrame parses and validates one inbound frame.
func decodeFrame(data []byte) (dialogue.Input, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return dialogue.Input{}, &domain.MalformedInputError{Reason: "invalid JSON", Err: err}
	}
	if err := shared.ValidateStruct(f); err != nil {
		return dialogue.Input{}, &domain.MalformedInputError{Reason: err.Error(), Err: err}
	}

	in := dialogue.Input{Text: *f.Message, EndRequested: f.Type == FrameEndConversation}
	if !in.EndRequested && strings.TrimSpace(in.Text) == "" {
		return dialogue.Input{}, &domain.MalformedInputError{Reason: errEmptyMessage.Error(), Err: errEmptyMessage}
	}
	return in, nil
}
