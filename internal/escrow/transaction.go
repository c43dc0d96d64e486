// Package escrow implements the transaction lifecycle engine for the
// marketplace: payment capture into escrow, shipment, delivery, the
// inspection window, buyer acceptance, disputes, and admin intervention.
//
// Flow:
//  1. Buyer initiates a purchase → transaction created in pending
//  2. Gateway capture succeeds → funds held, in_escrow
//  3. Seller ships with tracking + proof → shipped
//  4. Carrier (or the transit simulator) confirms → delivered, 3-day inspection window opens
//  5. Buyer accepts, or the window lapses → completed, funds released to seller
//  6. Buyer disputes before acceptance → disputed, admin resolves
//
// Admin interventions are recorded as an append-only action ledger; each
// non-reversal action can be undone exactly once by a super-admin.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/pagination"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrActionNotFound      = errors.New("admin action not found")
	ErrUnauthorized        = errors.New("not authorized for this transaction operation")
	ErrIllegalTransition   = errors.New("illegal transition for current transaction status")
	ErrConflict            = errors.New("transaction changed since it was last read")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrMissingTracking     = errors.New("tracking number and shipping proof are required")
	ErrMissingReason       = errors.New("dispute reason is required")
	ErrDisputeOpen         = errors.New("transaction already has an open dispute")
	ErrNoShippingAddress   = errors.New("buyer has no saved shipping address")
	ErrSelfPurchase        = errors.New("buyer and seller cannot be the same user")
	ErrListingUnavailable  = errors.New("listing is unavailable")
	ErrSelfReversal        = errors.New("admins cannot reverse their own actions")
	ErrAlreadyReversed     = errors.New("admin action already reversed")
	ErrNotReversible       = errors.New("reversal actions cannot be reversed")
	ErrIntegrity           = errors.New("transaction state violates an invariant")
)

// Status represents the state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"    // Created, awaiting capture result
	StatusInEscrow  Status = "in_escrow"  // Funds captured and held by the platform
	StatusShipped   Status = "shipped"    // Seller provided tracking + proof
	StatusDelivered Status = "delivered"  // Inspection window running
	StatusCompleted Status = "completed"  // Funds released to seller
	StatusDisputed  Status = "disputed"   // Buyer raised a dispute, awaiting admin
	StatusCancelled Status = "cancelled"  // Funds returned (or never captured)
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInEscrow, StatusShipped, StatusDelivered,
		StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Reversal of an admin action
// is the only transition out of a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// InspectionPeriod is the fixed window after delivery during which the
// buyer may accept or dispute before auto-release.
const InspectionPeriod = 72 * time.Hour

// Capture outcomes persisted for idempotence.
const (
	CaptureCaptured = "captured"
	CaptureDeclined = "declined"
)

// ActionKind classifies an admin intervention.
type ActionKind string

const (
	ActionForcedPayout     ActionKind = "forced_payout"
	ActionForcedFullRefund ActionKind = "forced_full_refund"
	ActionPartialRefund    ActionKind = "partial_refund"
	ActionReversal         ActionKind = "reversal"
)

// AdminAction is one entry in a transaction's append-only intervention
// ledger. OriginalStatus is the status snapshot taken immediately before
// the action applied; it is the sole mechanism enabling reversal.
type AdminAction struct {
	ID             string        `json:"id"`
	TransactionID  string        `json:"transactionId"`
	AdminID        string        `json:"adminId"`
	Kind           ActionKind    `json:"kind"`
	Details        string        `json:"details,omitempty"`
	TargetActionID string        `json:"targetActionId,omitempty"` // set on reversals
	Amount         *money.Amount `json:"amount,omitempty"`         // set on partial refunds
	OriginalStatus Status        `json:"originalStatus"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Transaction is an escrowed purchase. Parties, listing reference, and
// amount are fixed at creation; everything else moves only through the
// engine's transition functions.
type Transaction struct {
	ID          string       `json:"id"`
	BuyerID     string       `json:"buyerId"`
	SellerID    string       `json:"sellerId"`
	ListingID   string       `json:"listingId"`
	Description string       `json:"description,omitempty"` // item snapshot at purchase time
	Amount      money.Amount `json:"amount"`

	Status         Status `json:"status"`
	CaptureOutcome string `json:"captureOutcome,omitempty"` // "", "captured", "declined"

	TrackingNumber string        `json:"trackingNumber,omitempty"`
	ShippingProof  string        `json:"shippingProof,omitempty"`
	RefundedAmount *money.Amount `json:"refundedAmount,omitempty"`
	FailureReason  string        `json:"failureReason,omitempty"`

	CreatedAt        time.Time  `json:"createdAt"`
	ShippedAt        *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
	InspectionEndsAt *time.Time `json:"inspectionEndsAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	// AdminActions is the intervention ledger, oldest first.
	AdminActions []AdminAction `json:"adminActions,omitempty"`
}

// CheckIntegrity verifies the invariants no legal transition can break.
// A failure here is a data-integrity incident, not a user error.
func (t *Transaction) CheckIntegrity() error {
	if t.CompletedAt != nil && t.CancelledAt != nil {
		return ErrIntegrity
	}
	if t.Status == StatusDisputed && (t.CompletedAt != nil || t.CancelledAt != nil) {
		return ErrIntegrity
	}
	if t.RefundedAmount != nil {
		if !t.RefundedAmount.Positive() || *t.RefundedAmount > t.Amount {
			return ErrIntegrity
		}
		if t.Status == StatusCancelled && t.CancelledAt == nil {
			return ErrIntegrity
		}
	}
	return nil
}

// Filter narrows transaction listings. After resumes a page: only rows
// strictly past the cursor in (created_at, id) descending order are
// returned.
type Filter struct {
	UserID string // matches buyer or seller
	Status Status
	After  *pagination.Cursor
	Limit  int
}

// Store persists transactions and their admin-action ledgers.
//
// Update persists the transaction row and appends the given admin actions.
// Backends that can must apply both in a single atomic write; the memory
// store applies them under one lock.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction, actions ...*AdminAction) error
	List(ctx context.Context, f Filter) ([]*Transaction, error)
	ListActions(ctx context.Context, transactionID string) ([]*AdminAction, error)

	// Durable scan queries driven by the lifecycle clock. All are
	// restart-safe: a deadline that passed while the process was down is
	// picked up on the next call.
	ListInspectionExpired(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
	ListShippedBefore(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
}

// CaptureRequest is handed to the payment gateway when a purchase is
// initiated. The gateway reports the outcome later via CompleteCapture.
type CaptureRequest struct {
	TransactionID string
	BuyerID       string
	Amount        money.Amount
}

// CaptureGateway abstracts the external payment collaborator. Capture must
// not block on the gateway round-trip; the call only enqueues the attempt.
type CaptureGateway interface {
	Capture(ctx context.Context, req CaptureRequest) error
}

// DisputeRecorder abstracts the dispute subsystem so escrow doesn't import
// it. All three calls happen under the transaction's lifecycle lock, which
// is the consistency boundary for case-and-funds writes.
//
// Resolve marks the active case resolved with the admin's ruling note. It
// must be a no-op when no case is active, so a settlement interrupted
// between the case write and the transaction write can be retried.
type DisputeRecorder interface {
	HasOpen(ctx context.Context, transactionID string) (bool, error)
	Open(ctx context.Context, transactionID, buyerID, sellerID, reason string) (string, error)
	Resolve(ctx context.Context, transactionID, adminID, resolution string) error
}

// Completion manners reported with TransactionCompleted events.
const (
	CompletedManual = "manual" // buyer accepted
	CompletedAuto   = "auto"   // inspection window lapsed
	CompletedAdmin  = "admin"  // forced payout or dispute release
)

// Notifier receives domain events after the state mutation that caused
// them. Delivery is best-effort; engine correctness never depends on an
// event being observed.
type Notifier interface {
	PaymentSecured(ctx context.Context, t *Transaction)
	PaymentFailed(ctx context.Context, t *Transaction, reason string)
	ItemShipped(ctx context.Context, t *Transaction)
	ItemDelivered(ctx context.Context, t *Transaction)
	DisputeOpened(ctx context.Context, t *Transaction, disputeID, reason string)
	TransactionCompleted(ctx context.Context, t *Transaction, manner string)
	TransactionCancelled(ctx context.Context, t *Transaction, reason string)
	AdminActionReversed(ctx context.Context, t *Transaction, actionID string)
}
