package escrow

import (
	"context"
	"fmt"

	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/logging"
	"github.com/mbd888/escrowd/internal/metrics"
	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/party"
)

// Outcome is the resolution an admin forces on a transaction.
type Outcome string

const (
	OutcomeRelease       Outcome = "release"        // pay the seller
	OutcomeFullRefund    Outcome = "full_refund"    // return everything to the buyer
	OutcomePartialRefund Outcome = "partial_refund" // return part, keep the rest for the seller
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeRelease, OutcomeFullRefund, OutcomePartialRefund:
		return true
	}
	return false
}

// OverrideRequest describes a forced resolution.
type OverrideRequest struct {
	Outcome    Outcome      `json:"outcome"`
	Amount     money.Amount `json:"amount,omitempty"`     // partial refunds only
	Details    string       `json:"details,omitempty"`    // ledger entry note
	Resolution string       `json:"resolution,omitempty"` // ruling note recorded on the dispute case
	Expected   Status       `json:"expectedStatus,omitempty"`
}

// Override forces an outcome on an active transaction. Admin only. Works
// from any funds-held status; pending transactions hold nothing to move
// and terminal ones are already settled, so both are rejected. An open
// dispute on the transaction is resolved as part of the override.
func (e *Engine) Override(ctx context.Context, id, adminID string, req OverrideRequest) (*Transaction, error) {
	if _, err := e.resolveAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if !req.Outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrIllegalTransition, req.Outcome)
	}

	return e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		if req.Expected != "" && t.Status != req.Expected {
			return nil, ErrConflict
		}
		switch t.Status {
		case StatusInEscrow, StatusShipped, StatusDelivered, StatusDisputed:
		default:
			return nil, ErrIllegalTransition
		}
		wasDisputed := t.Status == StatusDisputed

		action, err := e.applyOutcome(t, adminID, req)
		if err != nil {
			return nil, err
		}

		// The case row closes inside the same critical section as the funds
		// write. A resolve failure aborts before anything is persisted; if
		// the transaction write fails afterwards, the retry finds no active
		// case and resolves as a no-op.
		if wasDisputed && e.disputes != nil {
			resolution := req.Resolution
			if resolution == "" {
				resolution = "settled by admin override"
			}
			if err := e.disputes.Resolve(ctx, t.ID, adminID, resolution); err != nil {
				return nil, fmt.Errorf("resolving dispute: %w", err)
			}
		}
		return action, nil
	}, e.emitSettled)
}

// ResolveDispute is Override restricted to disputed transactions, invoked
// by the dispute service once an admin rules on a case. The dispute row
// itself is closed by the caller; this settles the funds.
func (e *Engine) ResolveDispute(ctx context.Context, id, adminID string, req OverrideRequest) (*Transaction, error) {
	if _, err := e.resolveAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if !req.Outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrIllegalTransition, req.Outcome)
	}

	return e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		if t.Status != StatusDisputed {
			return nil, ErrIllegalTransition
		}
		action, err := e.applyOutcome(t, adminID, req)
		if err != nil {
			return nil, err
		}
		if e.disputes != nil {
			resolution := req.Resolution
			if resolution == "" {
				resolution = string(req.Outcome)
			}
			if err := e.disputes.Resolve(ctx, t.ID, adminID, resolution); err != nil {
				return nil, fmt.Errorf("resolving dispute: %w", err)
			}
		}
		return action, nil
	}, e.emitSettled)
}

// emitSettled fires the completion or cancellation event after an admin
// settlement. The last ledger entry is the action that settled.
func (e *Engine) emitSettled(ctx context.Context, t *Transaction) {
	if n := len(t.AdminActions); n > 0 {
		metrics.AdminActionsTotal.WithLabelValues(string(t.AdminActions[n-1].Kind)).Inc()
	}
	if t.Status == StatusCompleted {
		e.notifier.TransactionCompleted(ctx, t, CompletedAdmin)
		return
	}
	e.notifier.TransactionCancelled(ctx, t, t.FailureReason)
}

// applyOutcome mutates t per the requested outcome and returns the ledger
// entry recording it. Caller holds the transaction lock.
func (e *Engine) applyOutcome(t *Transaction, adminID string, req OverrideRequest) (*AdminAction, error) {
	original := t.Status
	now := e.now().UTC()

	action := &AdminAction{
		ID:             idgen.WithPrefix(idgen.ActionPrefix),
		TransactionID:  t.ID,
		AdminID:        adminID,
		Details:        req.Details,
		OriginalStatus: original,
		CreatedAt:      now,
	}

	switch req.Outcome {
	case OutcomeRelease:
		action.Kind = ActionForcedPayout
		t.Status = StatusCompleted
		t.CompletedAt = &now

	case OutcomeFullRefund:
		action.Kind = ActionForcedFullRefund
		amt := t.Amount
		t.Status = StatusCancelled
		t.CancelledAt = &now
		t.RefundedAmount = &amt
		t.FailureReason = "refunded in full by admin"

	case OutcomePartialRefund:
		// Refunding the full amount through the partial path is legal;
		// the ledger still records it as a partial refund.
		if !req.Amount.Positive() || req.Amount > t.Amount {
			return nil, ErrInvalidAmount
		}
		action.Kind = ActionPartialRefund
		amt := req.Amount
		action.Amount = &amt
		t.Status = StatusCancelled
		t.CancelledAt = &now
		t.RefundedAmount = &amt
		t.FailureReason = "partially refunded by admin"
	}

	t.AdminActions = append(t.AdminActions, *action)
	return action, nil
}

// ReverseAdminAction undoes a prior admin action, restoring the status
// snapshot the action recorded. Super-admin only, and never by the admin
// who performed the original action. Each action is reversible at most
// once, and reversals themselves are final.
//
// Reversal restores status bookkeeping only. A transaction returned to
// disputed does not get its resolved dispute reopened; the admin rules on
// it again through the normal resolution path.
func (e *Engine) ReverseAdminAction(ctx context.Context, id, callerID, actionID string) (*Transaction, error) {
	actor, err := e.directory.Resolve(ctx, callerID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if actor.Role != party.RoleSuperAdmin {
		return nil, ErrUnauthorized
	}

	return e.mutate(ctx, id, func(t *Transaction) (*AdminAction, error) {
		var target *AdminAction
		for i := range t.AdminActions {
			if t.AdminActions[i].ID == actionID {
				target = &t.AdminActions[i]
				continue
			}
			if t.AdminActions[i].Kind == ActionReversal && t.AdminActions[i].TargetActionID == actionID {
				return nil, ErrAlreadyReversed
			}
		}
		if target == nil {
			return nil, ErrActionNotFound
		}
		if target.Kind == ActionReversal {
			return nil, ErrNotReversible
		}
		if target.AdminID == callerID {
			return nil, ErrSelfReversal
		}

		now := e.now().UTC()
		reversal := &AdminAction{
			ID:             idgen.WithPrefix(idgen.ActionPrefix),
			TransactionID:  t.ID,
			AdminID:        callerID,
			Kind:           ActionReversal,
			TargetActionID: target.ID,
			OriginalStatus: t.Status,
			CreatedAt:      now,
		}

		t.Status = target.OriginalStatus
		t.CompletedAt = nil
		t.CancelledAt = nil
		t.RefundedAmount = nil
		t.FailureReason = ""
		t.AdminActions = append(t.AdminActions, *reversal)

		logging.L(ctx).Warn("admin action reversed",
			"transaction_id", t.ID,
			"action_id", target.ID,
			"reversed_by", callerID,
			"restored_status", t.Status)

		return reversal, nil
	}, func(ctx context.Context, t *Transaction) {
		metrics.AdminActionsTotal.WithLabelValues(string(ActionReversal)).Inc()
		e.notifier.AdminActionReversed(ctx, t, actionID)
	})
}
