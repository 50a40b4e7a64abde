package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
)

// Transactor scopes several repository calls to one transaction. Repository
// methods called with the ctx passed to fn join that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLiteTransactor implements Transactor on a SQLite handle.
type SQLiteTransactor struct {
	db *sql.DB
}

// NewTransactor creates a transactor over db.
func NewTransactor(db *sql.DB) *SQLiteTransactor {
	return &SQLiteTransactor{db: db}
}

// WithinTx runs fn in a transaction, committing when it returns nil. Errors
// from fn are returned unchanged after rollback; failures to begin or commit
// are reported as ErrStorage.
func (t *SQLiteTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var fnErr error
	err := database.InTx(ctx, t.db, func(ctx context.Context) error {
		fnErr = fn(ctx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return storageError("transaction", err)
	}
	return err
}

// timeFormat is how timestamps are stored: RFC3339 in UTC, so text order
// matches time order.
const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s) //nolint:errcheck // format is controlled
	return t
}
