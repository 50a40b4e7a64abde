package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
)

// Ledger persists refresh token records.
//
// Revoke and RevokeAllForUser are conditional updates on active = 1. Their
// affected-row counts are the only thing deciding which of two concurrent
// rotations of the same token wins.
type Ledger interface {
	Create(ctx context.Context, jti string, userID int64, expiresAt time.Time) error
	IsActive(ctx context.Context, jti string, userID int64) (bool, time.Time, error)
	Get(ctx context.Context, jti string) (*RefreshTokenRecord, error)
	Revoke(ctx context.Context, jti string, userID int64) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]RefreshTokenRecord, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteLedger implements Ledger using SQLite. Every mutation runs in a
// transaction: the ambient one from Transactor.WithinTx, or its own.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger creates a SQLite-backed ledger. A nil now uses time.Now.
func NewLedger(db *sql.DB, now func() time.Time) *SQLiteLedger {
	if now == nil {
		now = time.Now
	}
	return &SQLiteLedger{db: db, now: now}
}

// Create inserts an active record. A jti collision fails with
// ErrDuplicateTokenID wrapped in ErrStorage.
func (l *SQLiteLedger) Create(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	return l.inTx(ctx, "creating refresh token", func(ctx context.Context) error {
		_, err := database.Conn(ctx, l.db).ExecContext(ctx,
			`INSERT INTO refresh_tokens (jti, user_id, expires_at, active, created_at)
			 VALUES (?, ?, ?, 1, ?)`,
			jti, userID, formatTime(expiresAt), formatTime(l.now()),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storageError("creating refresh token", ErrDuplicateTokenID)
			}
			return storageError("creating refresh token", err)
		}
		return nil
	})
}

// IsActive reports whether jti is an active record belonging to userID, with
// its stored expiry. Unknown tokens and user mismatches are inactive.
func (l *SQLiteLedger) IsActive(ctx context.Context, jti string, userID int64) (bool, time.Time, error) {
	var active int
	var expiresAt string

	err := database.Conn(ctx, l.db).QueryRowContext(ctx,
		"SELECT active, expires_at FROM refresh_tokens WHERE jti = ? AND user_id = ?",
		jti, userID,
	).Scan(&active, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, storageError("checking refresh token", err)
	}
	return active != 0, parseTime(expiresAt), nil
}

// Get returns the record for jti, active or not.
func (l *SQLiteLedger) Get(ctx context.Context, jti string) (*RefreshTokenRecord, error) {
	row := database.Conn(ctx, l.db).QueryRowContext(ctx,
		`SELECT jti, user_id, expires_at, active, created_at
		 FROM refresh_tokens WHERE jti = ?`, jti)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, storageError("getting refresh token", err)
	}
	return rec, nil
}

// Revoke deactivates jti if it is active and owned by userID, returning the
// number of rows changed (0 or 1).
func (l *SQLiteLedger) Revoke(ctx context.Context, jti string, userID int64) (int64, error) {
	return l.revoke(ctx, "revoking refresh token",
		"UPDATE refresh_tokens SET active = 0 WHERE jti = ? AND user_id = ? AND active = 1",
		jti, userID)
}

// RevokeAllForUser deactivates every active record of userID, returning the
// number of rows changed.
func (l *SQLiteLedger) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	return l.revoke(ctx, "revoking refresh tokens for user",
		"UPDATE refresh_tokens SET active = 0 WHERE user_id = ? AND active = 1",
		userID)
}

func (l *SQLiteLedger) revoke(ctx context.Context, op, query string, args ...any) (int64, error) {
	var affected int64
	err := l.inTx(ctx, op, func(ctx context.Context) error {
		result, err := database.Conn(ctx, l.db).ExecContext(ctx, query, args...)
		if err != nil {
			return storageError(op, err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return storageError(op, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// inTx runs fn via database.InTx and reports begin/commit failures as
// ErrStorage.
func (l *SQLiteLedger) inTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := database.InTx(ctx, l.db, fn)
	if err != nil && !errors.Is(err, ErrStorage) {
		return storageError(op, err)
	}
	return err
}

// ListActiveByUser returns the user's active, unexpired records, newest first.
func (l *SQLiteLedger) ListActiveByUser(ctx context.Context, userID int64) ([]RefreshTokenRecord, error) {
	rows, err := database.Conn(ctx, l.db).QueryContext(ctx,
		`SELECT jti, user_id, expires_at, active, created_at
		 FROM refresh_tokens
		 WHERE user_id = ? AND active = 1 AND expires_at > ?
		 ORDER BY created_at DESC, jti`, userID, formatTime(l.now()))
	if err != nil {
		return nil, storageError("listing refresh tokens", err)
	}
	defer rows.Close()

	records := []RefreshTokenRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageError("scanning refresh token", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating refresh tokens", err)
	}
	return records, nil
}

// PurgeExpired deletes records that expired before the cutoff. Revoked but
// unexpired records are kept for audit.
func (l *SQLiteLedger) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := l.inTx(ctx, "purging expired refresh tokens", func(ctx context.Context) error {
		result, err := database.Conn(ctx, l.db).ExecContext(ctx,
			"DELETE FROM refresh_tokens WHERE expires_at < ?", formatTime(before))
		if err != nil {
			return err
		}
		deleted, _ = result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func scanRecord(s scanner) (*RefreshTokenRecord, error) {
	var rec RefreshTokenRecord
	var active int
	var expiresAt, createdAt string

	if err := s.Scan(&rec.JTI, &rec.UserID, &expiresAt, &active, &createdAt); err != nil {
		return nil, err
	}
	rec.Active = active != 0
	rec.ExpiresAt = parseTime(expiresAt)
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}
