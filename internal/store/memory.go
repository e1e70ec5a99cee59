package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/polly/internal/domain"
)

// MemoryStore implements TurnStore in process memory.
type MemoryStore struct {
	writers *KeyLock
	mu      sync.RWMutex
	data    map[domain.ConversationKey]*domain.History
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		writers: NewKeyLock(),
		data:    make(map[domain.ConversationKey]*domain.History),
		now:     time.Now,
	}
}

// Load returns the history for key, creating it if needed.
func (s *MemoryStore) Load(ctx context.Context, key domain.ConversationKey) (*domain.History, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, persistErr("load", key, err)
	}
	unlock := s.writers.Lock(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.data[key]; ok {
		return h.Clone(), false, nil
	}
	now := s.now()
	h := &domain.History{Key: key, Turns: []domain.Turn{}, CreatedAt: now, UpdatedAt: now}
	s.data[key] = h
	return h.Clone(), true, nil
}

// Get returns the history for key without creating it.
func (s *MemoryStore) Get(ctx context.Context, key domain.ConversationKey) (*domain.History, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("get", key, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.data[key]
	if !ok {
		return nil, persistErr("get", key, ErrNotFound)
	}
	return h.Clone(), nil
}

// Append adds turns in order and returns the full history.
func (s *MemoryStore) Append(ctx context.Context, key domain.ConversationKey, turns ...domain.Turn) (*domain.History, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("append", key, err)
	}
	unlock := s.writers.Lock(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.data[key]
	if !ok {
		now := s.now()
		h = &domain.History{Key: key, CreatedAt: now}
		s.data[key] = h
	}
	h.Turns = append(h.Turns, turns...)
	h.UpdatedAt = s.now()
	return h.Clone(), nil
}

// Replace overwrites the turns for key.
func (s *MemoryStore) Replace(ctx context.Context, key domain.ConversationKey, turns []domain.Turn) error {
	if err := ctx.Err(); err != nil {
		return persistErr("replace", key, err)
	}
	unlock := s.writers.Lock(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	h, ok := s.data[key]
	if !ok {
		h = &domain.History{Key: key, CreatedAt: now}
		s.data[key] = h
	}
	h.Turns = append([]domain.Turn(nil), turns...)
	h.UpdatedAt = now
	return nil
}

// List summarizes the conversations of one scenario, ordered by student id.
func (s *MemoryStore) List(_ context.Context, scenarioID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Summary
	for key, h := range s.data {
		if key.ScenarioID != scenarioID {
			continue
		}
		out = append(out, Summary{
			Key:       key,
			StudentID: key.StudentID,
			TurnCount: len(h.Turns),
			CreatedAt: h.CreatedAt,
			UpdatedAt: h.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ TurnStore = (*MemoryStore)(nil)
