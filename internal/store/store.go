// Package store provides conversation history persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/polly/internal/domain"
)

// ErrNotFound is returned by Get when no history exists for a key.
var ErrNotFound = errors.New("history not found")

// Summary describes one stored conversation without its turns.
type Summary struct {
	Key       domain.ConversationKey `json:"-"`
	StudentID string                 `json:"student_id"`
	TurnCount int                    `json:"turn_count"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// TurnStore is the append-only, per-key ordered log of dialogue turns.
// Writes for one key are serialized; different keys are independent.
// Every failure is returned as *domain.PersistenceError.
type TurnStore interface {
	// Load returns the history for key, creating an empty one if none exists.
	// created reports whether this call created it.
	Load(ctx context.Context, key domain.ConversationKey) (h *domain.History, created bool, err error)

	// Get returns the history for key without creating it.
	// A missing history yields a PersistenceError wrapping ErrNotFound.
	Get(ctx context.Context, key domain.ConversationKey) (*domain.History, error)

	// Append adds turns to the end of the history and returns the full durable history.
	Append(ctx context.Context, key domain.ConversationKey, turns ...domain.Turn) (*domain.History, error)

	// Replace overwrites the stored turns for key. Used for operator restores;
	// the dialogue path only appends.
	Replace(ctx context.Context, key domain.ConversationKey, turns []domain.Turn) error

	// List summarizes every stored conversation for a scenario.
	List(ctx context.Context, scenarioID string) ([]Summary, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Open returns the TurnStore for driver: "sqlite" at dbPath, or "memory".
func Open(driver, dbPath string) (TurnStore, error) {
	switch driver {
	case "sqlite":
		s, err := NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func persistErr(op string, key domain.ConversationKey, err error) error {
	if err == nil {
		return nil
	}
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.PersistenceError{Op: op, Key: key, Err: err}
}
