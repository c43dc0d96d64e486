package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/escrowd/internal/money"
)

// PostgresStore persists transactions and admin actions in PostgreSQL.
// Update writes the transaction row and any new ledger entries in a
// single database transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `
	id, buyer_id, seller_id, listing_id, description, amount,
	status, capture_outcome, tracking_number, shipping_proof,
	refunded_amount, failure_reason,
	created_at, shipped_at, delivered_at, inspection_ends_at,
	completed_at, cancelled_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		t.ID, t.BuyerID, t.SellerID, t.ListingID, nullStr(t.Description), int64(t.Amount),
		string(t.Status), nullStr(t.CaptureOutcome), nullStr(t.TrackingNumber), nullStr(t.ShippingProof),
		nullAmount(t.RefundedAmount), nullStr(t.FailureReason),
		t.CreatedAt, nullTime(t.ShippedAt), nullTime(t.DeliveredAt), nullTime(t.InspectionEndsAt),
		nullTime(t.CompletedAt), nullTime(t.CancelledAt), t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	actions, err := p.ListActions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		t.AdminActions = append(t.AdminActions, *a)
	}
	return t, nil
}

func (p *PostgresStore) Update(ctx context.Context, t *Transaction, actions ...*AdminAction) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions SET
			status = $1, capture_outcome = $2,
			tracking_number = $3, shipping_proof = $4,
			refunded_amount = $5, failure_reason = $6,
			shipped_at = $7, delivered_at = $8, inspection_ends_at = $9,
			completed_at = $10, cancelled_at = $11, updated_at = $12
		WHERE id = $13`,
		string(t.Status), nullStr(t.CaptureOutcome),
		nullStr(t.TrackingNumber), nullStr(t.ShippingProof),
		nullAmount(t.RefundedAmount), nullStr(t.FailureReason),
		nullTime(t.ShippedAt), nullTime(t.DeliveredAt), nullTime(t.InspectionEndsAt),
		nullTime(t.CompletedAt), nullTime(t.CancelledAt), t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}

	for _, a := range actions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO admin_actions (
				id, transaction_id, admin_id, kind, details,
				target_action_id, amount, original_status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID, a.TransactionID, a.AdminID, string(a.Kind), nullStr(a.Details),
			nullStr(a.TargetActionID), nullAmount(a.Amount), string(a.OriginalStatus), a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting admin action: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	args := []any{}
	i := 1
	if f.UserID != "" {
		query += fmt.Sprintf(" AND (buyer_id = $%d OR seller_id = $%d)", i, i)
		args = append(args, f.UserID)
		i++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", i)
		args = append(args, string(f.Status))
		i++
	}
	if f.After != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", i, i+1)
		args = append(args, f.After.CreatedAt, f.After.ID)
		i += 2
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", i)
		args = append(args, f.Limit)
	}
	return p.queryTransactions(ctx, query, args...)
}

func (p *PostgresStore) ListActions(ctx context.Context, transactionID string) ([]*AdminAction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, transaction_id, admin_id, kind, details,
		       target_action_id, amount, original_status, created_at
		FROM admin_actions WHERE transaction_id = $1 ORDER BY seq ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AdminAction
	for rows.Next() {
		a := &AdminAction{}
		var details, target sql.NullString
		var amount sql.NullInt64
		var kind, original string
		err := rows.Scan(&a.ID, &a.TransactionID, &a.AdminID, &kind, &details,
			&target, &amount, &original, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		a.Kind = ActionKind(kind)
		a.Details = details.String
		a.TargetActionID = target.String
		a.OriginalStatus = Status(original)
		if amount.Valid {
			amt := money.Amount(amount.Int64)
			a.Amount = &amt
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListInspectionExpired(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return p.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = $1 AND inspection_ends_at <= $2
		ORDER BY inspection_ends_at ASC LIMIT $3`,
		string(StatusDelivered), before, limit)
}

func (p *PostgresStore) ListShippedBefore(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return p.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = $1 AND shipped_at <= $2
		ORDER BY shipped_at ASC LIMIT $3`,
		string(StatusShipped), before, limit)
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return p.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at ASC LIMIT $3`,
		string(StatusPending), before, limit)
}

func (p *PostgresStore) queryTransactions(ctx context.Context, query string, args ...any) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var description, captureOutcome, tracking, proof, failureReason sql.NullString
	var refunded sql.NullInt64
	var amount int64
	var status string
	var shippedAt, deliveredAt, inspectionEndsAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.BuyerID, &t.SellerID, &t.ListingID, &description, &amount,
		&status, &captureOutcome, &tracking, &proof,
		&refunded, &failureReason,
		&t.CreatedAt, &shippedAt, &deliveredAt, &inspectionEndsAt,
		&completedAt, &cancelledAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Amount = money.Amount(amount)
	t.Status = Status(status)
	t.CaptureOutcome = captureOutcome.String
	t.TrackingNumber = tracking.String
	t.ShippingProof = proof.String
	t.FailureReason = failureReason.String
	if refunded.Valid {
		amt := money.Amount(refunded.Int64)
		t.RefundedAmount = &amt
	}
	t.ShippedAt = timePtr(shippedAt)
	t.DeliveredAt = timePtr(deliveredAt)
	t.InspectionEndsAt = timePtr(inspectionEndsAt)
	t.CompletedAt = timePtr(completedAt)
	t.CancelledAt = timePtr(cancelledAt)
	return t, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullAmount(a *money.Amount) sql.NullInt64 {
	if a == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*a), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
