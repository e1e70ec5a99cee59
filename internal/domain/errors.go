package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned for input received after the conversation ended.
	ErrSessionClosed = errors.New("session has concluded")
	// ErrSessionEnding is returned for plain messages while feedback is pending.
	ErrSessionEnding = errors.New("session is ending")
)

// ResolutionError means a connection referenced a scenario or student that
// could not be resolved. No session is created.
type ResolutionError struct {
	Field string
	ID    string
	Err   error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s %q: %v", e.Field, e.ID, e.Err)
	}
	return fmt.Sprintf("resolve %s %q", e.Field, e.ID)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// MalformedInputError means an inbound frame could not be decoded or failed validation.
type MalformedInputError struct {
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed input: %s: %v", e.Reason, e.Err)
	}
	return "malformed input: " + e.Reason
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// ModelCallError wraps a language-model failure or timeout.
type ModelCallError struct {
	Op  string
	Err error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Op, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// PersistenceError wraps a Turn Store failure for one conversation key.
type PersistenceError struct {
	Op  string
	Key ConversationKey
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s history %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
