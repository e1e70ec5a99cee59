// Package domain contains core domain types for the Polly tutoring engine.
package domain

import (
	"fmt"
	"regexp"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	// RoleSystem marks the scenario context turn.
	RoleSystem Role = "system"
	// RoleUser marks a student message.
	RoleUser Role = "user"
	// RoleAssistant marks a tutor message.
	RoleAssistant Role = "assistant"
)

// Kind further classifies assistant turns.
type Kind string

const (
	// KindMessage is an ordinary conversational turn.
	KindMessage Kind = ""
	// KindGreeting is the opening line emitted when a history is created.
	KindGreeting Kind = "greeting"
	// KindFeedback is the graded feedback produced when a conversation ends.
	KindFeedback Kind = "feedback"
)

// Turn is one message in a dialogue.
type Turn struct {
	Role      Role      `json:"role" validate:"required,oneof=system user assistant"`
	Kind      Kind      `json:"kind,omitempty" validate:"omitempty,oneof=greeting feedback"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IsFeedback reports whether the turn is the final graded feedback.
func (t Turn) IsFeedback() bool {
	return t.Role == RoleAssistant && t.Kind == KindFeedback
}

// LegacyStudentPrefix namespaces histories created through the legacy room route.
// Validated student ids cannot contain '.', so the two namespaces never meet.
const LegacyStudentPrefix = "room."

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is a well-formed scenario, student, or room identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ConversationKey identifies the single history kept per scenario and student.
type ConversationKey struct {
	ScenarioID string
	StudentID  string
}

// LegacyConversationKey maps a legacy room onto a conversation key.
func LegacyConversationKey(scenarioID, room string) ConversationKey {
	return ConversationKey{ScenarioID: scenarioID, StudentID: LegacyStudentPrefix + room}
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%s/%s", k.ScenarioID, k.StudentID)
}

// RoomKey identifies a broadcast group. Name is set only in legacy mode,
// where the caller picks the room within a scenario and StudentID is empty.
type RoomKey struct {
	ScenarioID string
	StudentID  string
	Name       string
}

// RoomFor returns the room that carries a conversation's events.
func RoomFor(key ConversationKey) RoomKey {
	return RoomKey{ScenarioID: key.ScenarioID, StudentID: key.StudentID}
}

// NamedRoom returns the legacy room key for name within a scenario.
func NamedRoom(scenarioID, name string) RoomKey {
	return RoomKey{ScenarioID: scenarioID, Name: name}
}

func (k RoomKey) String() string {
	if k.Name != "" {
		return "room:" + k.ScenarioID + "/" + k.Name
	}
	return "conversation:" + k.ScenarioID + "/" + k.StudentID
}

// History is the persisted, ordered log of turns for one conversation key.
type History struct {
	Key       ConversationKey
	Turns     []Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Len returns the number of turns.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Turns)
}

// Clone returns a copy whose turn slice does not alias the receiver's.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	c := *h
	c.Turns = append(make([]Turn, 0, len(h.Turns)), h.Turns...)
	return &c
}
