package dispute

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists disputes in PostgreSQL. The one-active-dispute
// rule is a partial unique index on (transaction_id) WHERE status IN
// ('open', 'escalated'); Create translates its violation to
// ErrActiveExists.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `
	id, transaction_id, buyer_id, seller_id, reason, status,
	resolution, resolved_by, resolved_at, escalated_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.TransactionID, d.BuyerID, d.SellerID, d.Reason, string(d.Status),
		nullStr(d.Resolution), nullStr(d.ResolvedBy), nullTime(d.ResolvedAt),
		nullTime(d.EscalatedAt), d.CreatedAt, d.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrActiveExists
	}
	if err != nil {
		return fmt.Errorf("inserting dispute: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDispute(row)
}

func (p *PostgresStore) GetActiveByTransaction(ctx context.Context, transactionID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE transaction_id = $1 AND status IN ('open', 'escalated')`, transactionID)
	return scanDispute(row)
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, resolution = $2, resolved_by = $3, resolved_at = $4,
			escalated_at = $5, updated_at = $6
		WHERE id = $7`,
		string(d.Status), nullStr(d.Resolution), nullStr(d.ResolvedBy), nullTime(d.ResolvedAt),
		nullTime(d.EscalatedAt), d.UpdatedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating dispute: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE 1=1`
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
	// Escalated cases first, then oldest first: the admin review queue order.
	query += " ORDER BY (status = 'escalated') DESC, created_at ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", i)
		args = append(args, f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AddMessage(ctx context.Context, m *Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispute_messages (id, dispute_id, author_id, body, evidence_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.DisputeID, m.AuthorID, nullStr(m.Body), nullStr(m.EvidenceRef), m.CreatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inserting dispute message: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, disputeID string) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dispute_id, author_id, body, evidence_ref, created_at
		FROM dispute_messages WHERE dispute_id = $1 ORDER BY seq ASC`, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		m := &Message{}
		var body, evidenceRef sql.NullString
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.AuthorID, &body, &evidenceRef, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Body = body.String
		m.EvidenceRef = evidenceRef.String
		result = append(result, m)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (*Dispute, error) {
	d := &Dispute{}
	var status string
	var resolution, resolvedBy sql.NullString
	var resolvedAt, escalatedAt sql.NullTime

	err := row.Scan(&d.ID, &d.TransactionID, &d.BuyerID, &d.SellerID, &d.Reason, &status,
		&resolution, &resolvedBy, &resolvedAt, &escalatedAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.Resolution = resolution.String
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	if escalatedAt.Valid {
		t := escalatedAt.Time
		d.EscalatedAt = &t
	}
	return d, nil
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

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
