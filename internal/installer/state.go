package installer

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidState = errors.New("installer: unknown or already used state")
	ErrExpiredState = errors.New("installer: expired state")
)

type stateEntry struct {
	metadata string
	expires  time.Time
}

// stateStore issues single-use state nonces for the OAuth flow. Each nonce
// carries opaque metadata back to the callback and expires after the TTL.
type stateStore struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]stateEntry
}

func newStateStore(clock clockwork.Clock, ttl time.Duration) *stateStore {
	return &stateStore{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]stateEntry),
	}
}

// Issue creates a new state nonce carrying metadata.
func (s *stateStore) Issue(metadata string) string {
	state := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	s.entries[state] = stateEntry{
		metadata: metadata,
		expires:  s.clock.Now().Add(s.ttl),
	}
	return state
}

// Consume validates and removes a state nonce, returning its metadata.
// A nonce can be consumed at most once.
func (s *stateStore) Consume(state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return "", ErrInvalidState
	}
	delete(s.entries, state)

	if s.clock.Now().After(entry.expires) {
		return "", ErrExpiredState
	}
	return entry.metadata, nil
}

// prune drops expired entries. Caller holds the lock.
func (s *stateStore) prune() {
	now := s.clock.Now()
	for state, entry := range s.entries {
		if now.After(entry.expires) {
			delete(s.entries, state)
		}
	}
}
