package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/listing"
	"github.com/mbd888/escrowd/internal/logging"
	"github.com/mbd888/escrowd/internal/metrics"
	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/party"
	"github.com/mbd888/escrowd/internal/syncutil"
)

// Engine owns every transaction state transition. All mutations of a
// transaction serialize on a per-transaction lock, and each one re-reads
// the row under the lock before applying, so concurrent callers observe a
// consistent before-state or fail with ErrConflict.
type Engine struct {
	store     Store
	directory party.Directory
	catalog   listing.Catalog
	gateway   CaptureGateway
	notifier  Notifier
	disputes  DisputeRecorder
	locks     *syncutil.KeyedMutex
	logger    *slog.Logger

	now func() time.Time // swapped in tests
}

// NewEngine creates the lifecycle engine. Notifier and dispute wiring are
// attached afterwards to break the construction cycle with the dispute
// service.
func NewEngine(store Store, directory party.Directory, catalog listing.Catalog, gateway CaptureGateway, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		directory: directory,
		catalog:   catalog,
		gateway:   gateway,
		locks:     syncutil.NewKeyedMutex(),
		logger:    logger,
		now:       time.Now,
	}
}

// SetGateway attaches the payment gateway. The gateway usually wraps the
// engine itself to report outcomes, so it is attached after construction.
func (e *Engine) SetGateway(g CaptureGateway) *Engine {
	e.gateway = g
	return e
}

// WithNotifier attaches the domain event sink.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithDisputes attaches the dispute subsystem.
func (e *Engine) WithDisputes(d DisputeRecorder) *Engine {
	e.disputes = d
	return e
}

// Get returns a transaction visible to the caller. Buyers and sellers see
// their own transactions; admins see all.
func (e *Engine) Get(ctx context.Context, id, callerID string) (*Transaction, error) {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != callerID && t.SellerID != callerID {
		actor, err := e.directory.Resolve(ctx, callerID)
		if err != nil || !actor.Role.IsAdmin() {
			return nil, ErrUnauthorized
		}
	}
	return t, nil
}

// List returns the caller's transactions, or any user's for admins.
func (e *Engine) List(ctx context.Context, callerID string, f Filter) ([]*Transaction, error) {
	if f.UserID != callerID && f.UserID != "" {
		actor, err := e.directory.Resolve(ctx, callerID)
		if err != nil || !actor.Role.IsAdmin() {
			return nil, ErrUnauthorized
		}
	}
	if f.UserID == "" {
		f.UserID = callerID
	}
	return e.store.List(ctx, f)
}

// ListActions returns a transaction's admin-action ledger. Admin only.
func (e *Engine) ListActions(ctx context.Context, id, callerID string) ([]*AdminAction, error) {
	if _, err := e.resolveAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListActions(ctx, id)
}

// Initiate creates a transaction for a listing and enqueues the payment
// capture. The transaction is pending until the gateway reports back via
// CompleteCapture. Returns the created transaction and the display-only
// platform fee.
func (e *Engine) Initiate(ctx context.Context, buyerID, listingID string) (*Transaction, money.Amount, error) {
	buyer, err := e.directory.Resolve(ctx, buyerID)
	if err != nil {
		if errors.Is(err, party.ErrNotFound) {
			return nil, 0, ErrUnauthorized
		}
		return nil, 0, fmt.Errorf("resolving buyer: %w", err)
	}
	if !buyer.HasShippingAddress {
		return nil, 0, ErrNoShippingAddress
	}

	l, err := e.catalog.Get(ctx, listingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return nil, 0, ErrListingUnavailable
		}
		return nil, 0, fmt.Errorf("resolving listing: %w", err)
	}
	if !l.Available {
		return nil, 0, ErrListingUnavailable
	}
	if l.SellerID == buyerID {
		return nil, 0, ErrSelfPurchase
	}
	if !l.Price.Positive() {
		return nil, 0, ErrInvalidAmount
	}

	now := e.now().UTC()
	t := &Transaction{
		ID:          idgen.WithPrefix(idgen.TransactionPrefix),
		BuyerID:     buyerID,
		SellerID:    l.SellerID,
		ListingID:   l.ID,
		Description: l.Title,
		Amount:      l.Price,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Create(ctx, t); err != nil {
		return nil, 0, fmt.Errorf("creating transaction: %w", err)
	}
	metrics.TransactionsInitiatedTotal.Inc()

	if err := e.gateway.Capture(ctx, CaptureRequest{
		TransactionID: t.ID,
		BuyerID:       buyerID,
		Amount:        t.Amount,
	}); err != nil {
		// The stuck-pending scan will flag the row if no outcome ever lands.
		logging.L(ctx).Error("capture enqueue failed",
			"transaction_id", t.ID, "error", err)
	}

	logging.L(ctx).Info("transaction initiated",
		"transaction_id", t.ID,
		"buyer_id", buyerID,
		"seller_id", t.SellerID,
		"amount", t.Amount.String())

	return t, money.PlatformFee(t.Amount), nil
}

// CompleteCapture records the gateway's capture outcome. Success moves the
// transaction to in_escrow; failure cancels it with the gateway's reason.
//
// The call is idempotent per outcome: repeating the same outcome is a
// no-op, reporting a different outcome than the one already recorded is a
// conflict.
func (e *Engine) CompleteCapture(ctx context.Context, id string, success bool, reason string) (*Transaction, error) {
	return e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		outcome := CaptureCaptured
		if !success {
			outcome = CaptureDeclined
		}
		if t.CaptureOutcome != "" {
			if t.CaptureOutcome == outcome {
				return nil, errNoop
			}
			return nil, ErrConflict
		}
		if t.Status != StatusPending {
			return nil, ErrIllegalTransition
		}

		t.CaptureOutcome = outcome
		if success {
			t.Status = StatusInEscrow
			return nil, nil
		}
		now := e.now().UTC()
		t.Status = StatusCancelled
		t.CancelledAt = &now
		if reason == "" {
			reason = "capture declined"
		}
		t.FailureReason = reason
		return nil, nil
	}, func(ctx context.Context, t *Transaction) {
		if t.Status == StatusInEscrow {
			e.notifier.PaymentSecured(ctx, t)
		} else {
			e.notifier.PaymentFailed(ctx, t, t.FailureReason)
		}
	})
}

// MarkShipped records shipment. Seller only, from in_escrow, and both a
// tracking number and shipping proof are mandatory.
func (e *Engine) MarkShipped(ctx context.Context, id, callerID, tracking, proof string, expected Status) (*Transaction, error) {
	if tracking == "" || proof == "" {
		return nil, ErrMissingTracking
	}
	return e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		if t.SellerID != callerID {
			return nil, ErrUnauthorized
		}
		if expected != "" && t.Status != expected {
			return nil, ErrConflict
		}
		if t.Status != StatusInEscrow {
			return nil, ErrIllegalTransition
		}

		now := e.now().UTC()
		t.Status = StatusShipped
		t.TrackingNumber = tracking
		t.ShippingProof = proof
		t.ShippedAt = &now
		return nil, nil
	}, func(ctx context.Context, t *Transaction) {
		e.notifier.ItemShipped(ctx, t)
	})
}

// ConfirmDelivery records carrier delivery and opens the inspection
// window. Invoked by the transit simulator in demo mode; a carrier
// webhook would land here in production.
func (e *Engine) ConfirmDelivery(ctx context.Context, id string) (*Transaction, error) {
	return e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		if t.Status != StatusShipped {
			return nil, ErrIllegalTransition
		}
		now := e.now().UTC()
		ends := now.Add(InspectionPeriod)
		t.Status = StatusDelivered
		t.DeliveredAt = &now
		t.InspectionEndsAt = &ends
		return nil, nil
	}, func(ctx context.Context, t *Transaction) {
		e.notifier.ItemDelivered(ctx, t)
	})
}

// AcceptItem is the buyer confirming the item is satisfactory. Releases
// funds to the seller immediately, ending the inspection window early.
func (e *Engine) AcceptItem(ctx context.Context, id, callerID string, expected Status) (*Transaction, error) {
	return e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		if t.BuyerID != callerID {
			return nil, ErrUnauthorized
		}
		if expected != "" && t.Status != expected {
			return nil, ErrConflict
		}
		if t.Status != StatusDelivered {
			return nil, ErrIllegalTransition
		}
		e.complete(t)
		return nil, nil
	}, func(ctx context.Context, t *Transaction) {
		e.notifier.TransactionCompleted(ctx, t, CompletedManual)
	})
}

// AutoRelease completes a delivered transaction whose inspection window
// has lapsed. Safe to call concurrently and repeatedly for the same
// transaction: exactly one caller performs the release, the rest no-op.
func (e *Engine) AutoRelease(ctx context.Context, id string) (*Transaction, error) {
	return e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		if t.Status != StatusDelivered {
			// Raced with acceptance, a dispute, or another scan pass.
			return nil, errNoop
		}
		if t.InspectionEndsAt == nil || e.now().Before(*t.InspectionEndsAt) {
			return nil, errNoop
		}
		e.complete(t)
		return nil, nil
	}, func(ctx context.Context, t *Transaction) {
		e.notifier.TransactionCompleted(ctx, t, CompletedAuto)
	})
}

// RaiseDispute freezes a delivered transaction pending admin review.
// Buyer only, one open dispute per transaction, and a non-empty reason is
// required. Returns the transaction and the created dispute's ID.
func (e *Engine) RaiseDispute(ctx context.Context, id, callerID, reason string, expected Status) (*Transaction, string, error) {
	if reason == "" {
		return nil, "", ErrMissingReason
	}
	var disputeID string
	t, err := e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		if t.BuyerID != callerID {
			return nil, ErrUnauthorized
		}
		if expected != "" && t.Status != expected {
			return nil, ErrConflict
		}
		if t.Status != StatusDelivered {
			return nil, ErrIllegalTransition
		}

		open, err := e.disputes.HasOpen(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("checking open disputes: %w", err)
		}
		if open {
			return nil, ErrDisputeOpen
		}
		disputeID, err = e.disputes.Open(ctx, t.ID, t.BuyerID, t.SellerID, reason)
		if err != nil {
			return nil, fmt.Errorf("opening dispute: %w", err)
		}

		t.Status = StatusDisputed
		return nil, nil
	}, func(ctx context.Context, t *Transaction) {
		e.notifier.DisputeOpened(ctx, t, disputeID, reason)
	})
	if err != nil {
		return nil, "", err
	}
	return t, disputeID, nil
}

// errNoop signals a mutation that decided nothing needs to change.
// mutate swallows it and returns the unchanged transaction.
var errNoop = errors.New("no-op")

// mutate is the single write path for transaction state. It serializes on
// the per-transaction lock, re-reads the row, applies fn, verifies
// integrity, persists, and then fires the event callback outside the
// critical path of the caller's view but still under the lock, so events
// for one transaction are ordered.
func (e *Engine) mutate(ctx context.Context, id string, fn func(*Transaction) (*AdminAction, error), emit func(context.Context, *Transaction)) (*Transaction, error) {
	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	action, err := fn(t)
	if err == errNoop {
		return t, nil
	}
	if err != nil {
		return nil, err
	}

	t.UpdatedAt = e.now().UTC()
	if err := t.CheckIntegrity(); err != nil {
		logging.L(ctx).Error("CRITICAL: integrity violation rejected before write",
			"transaction_id", t.ID, "status", t.Status)
		return nil, err
	}

	if action != nil {
		err = e.store.Update(ctx, t, action)
	} else {
		err = e.store.Update(ctx, t)
	}
	if err != nil {
		return nil, fmt.Errorf("updating transaction: %w", err)
	}

	if emit != nil && e.notifier != nil {
		emit(ctx, t)
	}
	return t, nil
}

// complete marks t released to the seller.
func (e *Engine) complete(t *Transaction) {
	now := e.now().UTC()
	t.Status = StatusCompleted
	t.CompletedAt = &now
}

func (e *Engine) resolveAdmin(ctx context.Context, callerID string) (*party.Actor, error) {
	actor, err := e.directory.Resolve(ctx, callerID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !actor.Role.IsAdmin() {
		return nil, ErrUnauthorized
	}
	return actor, nil
}
