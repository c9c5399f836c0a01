package transactions

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS credit_transactions (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	credit_id    BIGINT NOT NULL,
	project_id   TEXT NOT NULL,
	amount       TEXT NOT NULL DEFAULT '',
	from_address TEXT NOT NULL DEFAULT '',
	to_address   TEXT NOT NULL DEFAULT '',
	tx_hash      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_created_at ON credit_transactions (created_at);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_credit_id ON credit_transactions (credit_id);`

// Archive is an append-only Postgres mirror of the history.
type Archive struct {
	db *sqlx.DB
}

// NewArchive wraps db.
func NewArchive(db *sqlx.DB) *Archive {
	return &Archive{db: db}
}

// EnsureSchema creates the archive table when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create credit_transactions: %w", err)
	}
	return nil
}

// Insert stores r. Re-inserting the same id is a no-op.
func (a *Archive) Insert(ctx context.Context, r Record) error {
	query := `
		INSERT INTO credit_transactions (
			id, type, credit_id, project_id, amount, from_address, to_address, tx_hash, created_at
		) VALUES (
			:id, :type, :credit_id, :project_id, :amount, :from_address, :to_address, :tx_hash, :created_at
		) ON CONFLICT (id) DO NOTHING`
	_, err := a.db.NamedExecContext(ctx, query, r)
	return err
}

// ListBetween returns records created in [from, to), newest first. An
// empty kind matches every kind.
func (a *Archive) ListBetween(ctx context.Context, from, to time.Time, kind Kind) ([]Record, error) {
	query := "SELECT * FROM credit_transactions WHERE created_at >= $1 AND created_at < $2"
	args := []interface{}{from, to}
	if kind != "" {
		query += " AND type = $3"
		args = append(args, kind)
	}
	query += " ORDER BY created_at DESC"

	var records []Record
	if err := a.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, err
	}
	return records, nil
}
