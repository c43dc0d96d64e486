// Package dispute manages the case files attached to disputed
// transactions: the buyer's complaint, the message thread between the
// parties, escalation, and the admin's eventual ruling.
//
// The funds themselves never move here. Settlement goes through the
// transaction engine; this package owns the paperwork.
package dispute

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("dispute not found")
	ErrClosed           = errors.New("dispute is already resolved")
	ErrUnauthorized     = errors.New("not a participant in this dispute")
	ErrAlreadyEscalated = errors.New("dispute is already escalated")
	ErrEmptyMessage     = errors.New("message requires text or an evidence attachment")
)

// Status is the state of a dispute case.
type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated" // flagged for priority admin review
	StatusResolved  Status = "resolved"
)

// Active reports whether the case still awaits a ruling.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusEscalated
}

// Dispute is one case against a transaction. A transaction has at most
// one active dispute at a time; resolved cases stay on file.
type Dispute struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	BuyerID       string `json:"buyerId"`
	SellerID      string `json:"sellerId"`
	Reason        string `json:"reason"`
	Status        Status `json:"status"`

	Resolution string     `json:"resolution,omitempty"` // admin's ruling note
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Message is one entry in a dispute's thread. Text and evidence are each
// optional, but a message must carry at least one of them. EvidenceRef is
// an opaque reference to an uploaded attachment; validating and storing
// the blob itself belongs to the surrounding app.
type Message struct {
	ID          string    `json:"id"`
	DisputeID   string    `json:"disputeId"`
	AuthorID    string    `json:"authorId"`
	Body        string    `json:"body,omitempty"`
	EvidenceRef string    `json:"evidenceRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Filter narrows dispute listings.
type Filter struct {
	UserID string // matches buyer or seller
	Status Status
	Limit  int
}

// Store persists disputes and their message threads. Create must reject a
// second active dispute for the same transaction; the relational backend
// enforces this with a partial unique index.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetActiveByTransaction(ctx context.Context, transactionID string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	List(ctx context.Context, f Filter) ([]*Dispute, error)

	AddMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, disputeID string) ([]*Message, error)
}
