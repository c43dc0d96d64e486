package party

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory party directory for demo/development mode.
type MemoryStore struct {
	actors map[string]*Actor
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory party store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actors: make(map[string]*Actor)}
}

func (m *MemoryStore) Resolve(ctx context.Context, id string) (*Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, a *Actor) error {
	if !a.Role.Valid() {
		return ErrInvalidRole
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.actors[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) SetShippingAddress(ctx context.Context, id string, has bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actors[id]
	if !ok {
		return ErrNotFound
	}
	a.HasShippingAddress = has
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
