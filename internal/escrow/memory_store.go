package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory transaction store for demo/development mode
// and tests. Transactions and their action ledgers are kept separately,
// mirroring the relational layout, and every read returns copies.
type MemoryStore struct {
	transactions map[string]*Transaction
	actions      map[string][]AdminAction
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*Transaction),
		actions:      make(map[string][]AdminAction),
	}
}

func (m *MemoryStore) Create(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	cp.AdminActions = nil
	m.transactions[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return m.snapshot(t), nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Transaction, actions ...*AdminAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[t.ID]; !ok {
		return ErrTransactionNotFound
	}
	cp := *t
	cp.AdminActions = nil
	m.transactions[t.ID] = &cp
	for _, a := range actions {
		m.actions[t.ID] = append(m.actions[t.ID], *a)
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, t := range m.transactions {
		if f.UserID != "" && t.BuyerID != f.UserID && t.SellerID != f.UserID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.After != nil {
			if t.CreatedAt.After(f.After.CreatedAt) {
				continue
			}
			if t.CreatedAt.Equal(f.After.CreatedAt) && t.ID >= f.After.ID {
				continue
			}
		}
		result = append(result, m.snapshot(t))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MemoryStore) ListActions(ctx context.Context, transactionID string) ([]*AdminAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ledger := m.actions[transactionID]
	result := make([]*AdminAction, 0, len(ledger))
	for i := range ledger {
		cp := ledger[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ListInspectionExpired(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return m.scan(limit, func(t *Transaction) bool {
		return t.Status == StatusDelivered &&
			t.InspectionEndsAt != nil && !t.InspectionEndsAt.After(before)
	})
}

func (m *MemoryStore) ListShippedBefore(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return m.scan(limit, func(t *Transaction) bool {
		return t.Status == StatusShipped &&
			t.ShippedAt != nil && !t.ShippedAt.After(before)
	})
}

func (m *MemoryStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return m.scan(limit, func(t *Transaction) bool {
		return t.Status == StatusPending && !t.CreatedAt.After(before)
	})
}

func (m *MemoryStore) scan(limit int, match func(*Transaction) bool) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, t := range m.transactions {
		if !match(t) {
			continue
		}
		result = append(result, m.snapshot(t))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// snapshot copies a transaction with its ledger attached. Caller holds at
// least a read lock.
func (m *MemoryStore) snapshot(t *Transaction) *Transaction {
	cp := *t
	if ledger := m.actions[t.ID]; len(ledger) > 0 {
		cp.AdminActions = make([]AdminAction, len(ledger))
		copy(cp.AdminActions, ledger)
	}
	return &cp
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
