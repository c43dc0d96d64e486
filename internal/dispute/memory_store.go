package dispute

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrActiveExists mirrors the relational partial unique index: one active
// dispute per transaction.
var ErrActiveExists = errors.New("transaction already has an active dispute")

// MemoryStore is an in-memory dispute store for demo/development mode and
// tests.
type MemoryStore struct {
	disputes map[string]*Dispute
	messages map[string][]Message
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		messages: make(map[string][]Message),
	}
}

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.disputes {
		if existing.TransactionID == d.TransactionID && existing.Status.Active() {
			return ErrActiveExists
		}
	}
	cp := *d
	m.disputes[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetActiveByTransaction(ctx context.Context, transactionID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.disputes {
		if d.TransactionID == transactionID && d.Status.Active() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Dispute
	for _, d := range m.disputes {
		if f.UserID != "" && d.BuyerID != f.UserID && d.SellerID != f.UserID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	// Escalated cases first, then oldest first: the admin review queue order.
	sort.Slice(result, func(i, j int) bool {
		if (result[i].Status == StatusEscalated) != (result[j].Status == StatusEscalated) {
			return result[i].Status == StatusEscalated
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[msg.DisputeID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.DisputeID] = append(m.messages[msg.DisputeID], *msg)
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, disputeID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread := m.messages[disputeID]
	result := make([]*Message, 0, len(thread))
	for i := range thread {
		cp := thread[i]
		result = append(result, &cp)
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
