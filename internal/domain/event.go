package domain

// MessageType tags outbound events for the client.
type MessageType string

const (
	MessageTypeMessage   MessageType = "message"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeFeedback  MessageType = "feedback"
	MessageTypeError     MessageType = "error"
)

// Event is one outbound message delivered to every member of a room.
type Event struct {
	Message     string      `json:"message"`
	Role        Role        `json:"role,omitempty"`
	CanEnd      bool        `json:"can_end"`
	MessageType MessageType `json:"message_type"`
}

// AssistantEvent wraps an assistant turn for delivery.
func AssistantEvent(content string, canEnd bool) Event {
	return Event{Message: content, Role: RoleAssistant, CanEnd: canEnd, MessageType: MessageTypeAssistant}
}

// FeedbackEvent wraps the final feedback turn for delivery.
func FeedbackEvent(content string) Event {
	return Event{Message: content, Role: RoleAssistant, CanEnd: true, MessageType: MessageTypeFeedback}
}

// ErrorEvent builds an error-kind event with a client-safe message.
func ErrorEvent(message string) Event {
	return Event{Message: message, MessageType: MessageTypeError}
}
