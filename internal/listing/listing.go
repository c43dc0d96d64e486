// Package listing is a minimal catalog of purchasable items.
//
// The full marketplace catalog (search, media, categories) lives in the
// surrounding app; the engine only needs enough of a listing to snapshot
// a purchase: seller, price, description, availability.
package listing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/money"
)

var (
	ErrNotFound    = errors.New("listing not found")
	ErrUnavailable = errors.New("listing unavailable")
)

// Listing is a purchasable item offered by a seller.
type Listing struct {
	ID          string       `json:"id"`
	SellerID    string       `json:"sellerId"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Price       money.Amount `json:"price"`
	Available   bool         `json:"available"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Catalog is the read side consumed by purchase initiation.
type Catalog interface {
	Get(ctx context.Context, id string) (*Listing, error)
}

// Store is a Catalog that also supports listing management.
type Store interface {
	Catalog
	Create(ctx context.Context, l *Listing) error
	SetAvailable(ctx context.Context, id string, available bool) error
	List(ctx context.Context, sellerID string, limit int) ([]*Listing, error)
}

// MemoryStore is an in-memory listing catalog for demo/development mode.
type MemoryStore struct {
	listings map[string]*Listing
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (m *MemoryStore) Create(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *l
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("lst_")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.listings[cp.ID] = &cp
	*l = cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) SetAvailable(ctx context.Context, id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.Available = available
	return nil
}

func (m *MemoryStore) List(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Listing
	for _, l := range m.listings {
		if sellerID != "" && l.SellerID != sellerID {
			continue
		}
		cp := *l
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
