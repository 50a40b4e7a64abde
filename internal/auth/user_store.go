package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
)

// CredentialStore fetches users with their enabled groups and effective scope.
type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
}

// UserStore adds the account mutations used by registration and credential
// changes.
type UserStore interface {
	CredentialStore
	Create(ctx context.Context, user *User, groupNames ...string) error
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateName(ctx context.Context, id int64, name string) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserStore implements UserStore and the group/scope administration
// used by seeding.
type SQLiteUserStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserStore creates a SQLite-backed user store. A nil now uses time.Now.
func NewUserStore(db *sql.DB, now func() time.Time) *SQLiteUserStore {
	if now == nil {
		now = time.Now
	}
	return &SQLiteUserStore{db: db, now: now}
}

const selectUser = `SELECT id, email, name, password_hash, enabled, created_at, updated_at FROM users`

// GetByEmail looks a user up by normalised email.
func (s *SQLiteUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, selectUser+" WHERE email = ?", NormalizeEmail(email))
}

// GetByID looks a user up by id.
func (s *SQLiteUserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, selectUser+" WHERE id = ?", id)
}

func (s *SQLiteUserStore) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	q := database.Conn(ctx, s.db)

	u, err := scanUserFrom(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, storageError("getting user", err)
	}

	if u.Groups, err = queryStrings(ctx, q,
		`SELECT g.name FROM access_groups g
		 JOIN group_members gm ON gm.group_id = g.id
		 WHERE gm.user_id = ? AND g.enabled = 1
		 ORDER BY g.name`, u.ID); err != nil {
		return nil, storageError("getting user groups", err)
	}

	if u.Scopes, err = queryStrings(ctx, q,
		`SELECT DISTINCT s.name FROM scopes s
		 JOIN group_scopes gs ON gs.scope_id = s.id
		 JOIN access_groups g ON g.id = gs.group_id
		 JOIN group_members gm ON gm.group_id = g.id
		 WHERE gm.user_id = ? AND g.enabled = 1 AND s.enabled = 1
		 ORDER BY s.name`, u.ID); err != nil {
		return nil, storageError("getting user scopes", err)
	}

	return u, nil
}

// Create inserts user and adds it to the named groups in one transaction.
// user.ID, CreatedAt and UpdatedAt are filled in.
func (s *SQLiteUserStore) Create(ctx context.Context, user *User, groupNames ...string) error {
	user.Email = NormalizeEmail(user.Email)
	user.CreatedAt = s.now().UTC().Truncate(time.Second)
	user.UpdatedAt = user.CreatedAt
	now := formatTime(user.CreatedAt)

	return s.inTx(ctx, "creating user", func(ctx context.Context) error {
		q := database.Conn(ctx, s.db)

		result, err := q.ExecContext(ctx,
			`INSERT INTO users (email, name, password_hash, enabled, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			user.Email, user.Name, user.PasswordHash, boolToInt(user.Enabled), now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailExists
			}
			return storageError("creating user", err)
		}
		if user.ID, err = result.LastInsertId(); err != nil {
			return storageError("creating user", err)
		}

		for _, name := range groupNames {
			if err := s.AddUserToGroup(ctx, user.ID, name); err != nil {
				return err
			}
		}
		return nil
	})
}

// EmailExists reports whether an account uses email.
func (s *SQLiteUserStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := database.Conn(ctx, s.db).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE email = ?", NormalizeEmail(email)).Scan(&n)
	if err != nil {
		return false, storageError("checking email", err)
	}
	return n > 0, nil
}

// UpdateName changes a user's display name.
func (s *SQLiteUserStore) UpdateName(ctx context.Context, id int64, name string) error {
	return s.updateUser(ctx, "updating name", "name = ?", id, name)
}

// UpdateEmail changes a user's email. A taken address fails with ErrEmailExists.
func (s *SQLiteUserStore) UpdateEmail(ctx context.Context, id int64, email string) error {
	return s.updateUser(ctx, "updating email", "email = ?", id, NormalizeEmail(email))
}

// UpdatePassword changes a user's password hash.
func (s *SQLiteUserStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return s.updateUser(ctx, "updating password", "password_hash = ?", id, passwordHash)
}

// SetEnabled enables or disables an account. Accounts are never deleted.
func (s *SQLiteUserStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.updateUser(ctx, "updating enabled flag", "enabled = ?", id, boolToInt(enabled))
}

func (s *SQLiteUserStore) updateUser(ctx context.Context, op, set string, id int64, value any) error {
	return s.inTx(ctx, op, func(ctx context.Context) error {
		result, err := database.Conn(ctx, s.db).ExecContext(ctx,
			"UPDATE users SET "+set+", updated_at = ? WHERE id = ?",
			value, formatTime(s.now()), id,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailExists
			}
			return storageError(op, err)
		}
		rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
		if rows == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// Count returns the number of accounts.
func (s *SQLiteUserStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := database.Conn(ctx, s.db).QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, storageError("counting users", err)
	}
	return count, nil
}

// EnsureScope creates the scope if missing and returns its id. An existing
// scope keeps its enabled flag; its description is updated when non-empty.
func (s *SQLiteUserStore) EnsureScope(ctx context.Context, name, description string) (int64, error) {
	if err := ValidateScopeName(name); err != nil {
		return 0, err
	}

	var id int64
	err := s.inTx(ctx, "ensuring scope", func(ctx context.Context) error {
		q := database.Conn(ctx, s.db)
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO scopes (name, enabled, description) VALUES (?, 1, ?)",
			name, description); err != nil {
			return storageError("ensuring scope", err)
		}
		if description != "" {
			if _, err := q.ExecContext(ctx,
				"UPDATE scopes SET description = ? WHERE name = ?", description, name); err != nil {
				return storageError("ensuring scope", err)
			}
		}
		if err := q.QueryRowContext(ctx, "SELECT id FROM scopes WHERE name = ?", name).Scan(&id); err != nil {
			return storageError("ensuring scope", err)
		}
		return nil
	})
	return id, err
}

// EnsureGroup creates the group if missing and grants it the named scopes,
// which must already exist. Existing grants are kept.
func (s *SQLiteUserStore) EnsureGroup(ctx context.Context, name string, scopes []string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty name", ErrGroupNotFound)
	}

	var id int64
	err := s.inTx(ctx, "ensuring group", func(ctx context.Context) error {
		q := database.Conn(ctx, s.db)
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO access_groups (name, enabled, created_at) VALUES (?, 1, ?)",
			name, formatTime(s.now())); err != nil {
			return storageError("ensuring group", err)
		}
		if err := q.QueryRowContext(ctx, "SELECT id FROM access_groups WHERE name = ?", name).Scan(&id); err != nil {
			return storageError("ensuring group", err)
		}

		for _, scope := range NormalizeScopes(scopes) {
			result, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO group_scopes (group_id, scope_id)
				 SELECT ?, id FROM scopes WHERE name = ?`, id, scope)
			if err != nil {
				return storageError("granting scope", err)
			}
			if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
				var exists int
				if err := q.QueryRowContext(ctx,
					"SELECT COUNT(*) FROM scopes WHERE name = ?", scope).Scan(&exists); err != nil {
					return storageError("granting scope", err)
				}
				if exists == 0 {
					return fmt.Errorf("%w: %s", ErrScopeNotFound, scope)
				}
			}
		}
		return nil
	})
	return id, err
}

// AddUserToGroup adds a membership. Adding an existing member is a no-op.
func (s *SQLiteUserStore) AddUserToGroup(ctx context.Context, userID int64, groupName string) error {
	return s.inTx(ctx, "adding group member", func(ctx context.Context) error {
		q := database.Conn(ctx, s.db)

		var groupID int64
		err := q.QueryRowContext(ctx, "SELECT id FROM access_groups WHERE name = ?", groupName).Scan(&groupID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrGroupNotFound, groupName)
			}
			return storageError("adding group member", err)
		}

		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)",
			groupID, userID); err != nil {
			return storageError("adding group member", err)
		}
		return nil
	})
}

// SetGroupEnabled enables or disables a group. A disabled group grants nothing.
func (s *SQLiteUserStore) SetGroupEnabled(ctx context.Context, name string, enabled bool) error {
	return s.setEnabled(ctx, "access_groups", name, enabled, ErrGroupNotFound)
}

// SetScopeEnabled enables or disables a scope everywhere it is granted.
func (s *SQLiteUserStore) SetScopeEnabled(ctx context.Context, name string, enabled bool) error {
	return s.setEnabled(ctx, "scopes", name, enabled, ErrScopeNotFound)
}

func (s *SQLiteUserStore) setEnabled(ctx context.Context, table, name string, enabled bool, notFound error) error {
	result, err := database.Conn(ctx, s.db).ExecContext(ctx,
		"UPDATE "+table+" SET enabled = ? WHERE name = ?", boolToInt(enabled), name)
	if err != nil {
		return storageError("updating "+table, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return fmt.Errorf("%w: %s", notFound, name)
	}
	return nil
}

// inTx runs fn via database.InTx and reports begin/commit failures as
// ErrStorage. Domain errors from fn pass through unchanged.
func (s *SQLiteUserStore) inTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var fnErr error
	err := database.InTx(ctx, s.db, func(ctx context.Context) error {
		fnErr = fn(ctx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return storageError(op, err)
	}
	return err
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanUserFrom scans a user from any scanner (Row or Rows).
func scanUserFrom(s scanner) (*User, error) {
	var u User
	var enabled int
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &enabled, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Enabled = enabled != 0
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func queryStrings(ctx context.Context, q database.Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
