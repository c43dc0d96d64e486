package party

import (
	"context"
	"database/sql"
)

// PostgresStore persists parties in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed party store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Resolve(ctx context.Context, id string) (*Actor, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, display_name, role, has_shipping_address, created_at
		FROM parties WHERE id = $1`, id)

	a := &Actor{}
	var displayName sql.NullString
	var role string
	err := row.Scan(&a.ID, &displayName, &role, &a.HasShippingAddress, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.DisplayName = displayName.String
	a.Role = Role(role)
	return a, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, a *Actor) error {
	if !a.Role.Valid() {
		return ErrInvalidRole
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO parties (id, display_name, role, has_shipping_address, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			has_shipping_address = EXCLUDED.has_shipping_address`,
		a.ID, nullString(a.DisplayName), string(a.Role), a.HasShippingAddress,
	)
	return err
}

func (p *PostgresStore) SetShippingAddress(ctx context.Context, id string, has bool) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE parties SET has_shipping_address = $1 WHERE id = $2`, has, id)
	if err != nil {
		return err
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

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
