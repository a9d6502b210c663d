package snapshot

import (
	"context"
	"sync"
)

// MemoryStore is a dev/test fallback Store with no durability.
type MemoryStore struct {
	mu      sync.Mutex
	payload []byte
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved state, or the empty default.
func (s *MemoryStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	s.mu.Lock()
	payload := s.payload
	s.mu.Unlock()

	if payload == nil {
		return State{}, nil
	}
	return decodeState(payload), nil
}

// Save replaces the held state.
func (s *MemoryStore) Save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := encodeState(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.payload = payload
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
