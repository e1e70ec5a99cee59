package store

import (
	"sync"

	"github.com/ashureev/polly/internal/domain"
)

// KeyLock hands out one mutex per conversation key. Entries are
// reference counted and dropped once no goroutine holds or waits on them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[domain.ConversationKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// NewKeyLock creates an empty KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[domain.ConversationKey]*refMutex)}
}

// Lock blocks until the caller is the single writer for key and returns the
// matching unlock function.
func (k *KeyLock) Lock(key domain.ConversationKey) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
