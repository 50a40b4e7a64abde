package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLedger_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedTestUser(t, "ledger@example.com")
	ctx := context.Background()

	expires := env.clock.Now().Add(time.Hour)
	if err := env.ledger.Create(ctx, "jti-1", user.ID, expires); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec, err := env.ledger.Get(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.UserID != user.ID || !rec.Active {
		t.Errorf("Get() = %+v, want active record for user %d", rec, user.ID)
	}
	if !rec.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", rec.ExpiresAt, expires)
	}
	if !rec.CreatedAt.Equal(env.clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, env.clock.Now())
	}

	if _, err := env.ledger.Get(ctx, "missing"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrTokenNotFound", err)
	}
}

func TestLedger_CreateDuplicateIsStorageError(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedTestUser(t, "dup@example.com")
	ctx := context.Background()

	expires := env.clock.Now().Add(time.Hour)
	if err := env.ledger.Create(ctx, "jti-dup", user.ID, expires); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := env.ledger.Create(ctx, "jti-dup", user.ID, expires)
	if !errors.Is(err, ErrStorage) {
		t.Errorf("Create() duplicate error = %v, want ErrStorage", err)
	}
	if !errors.Is(err, ErrDuplicateTokenID) {
		t.Errorf("Create() duplicate error = %v, want ErrDuplicateTokenID", err)
	}
}

func TestLedger_IsActive(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedTestUser(t, "alice@example.com")
	bob := env.seedTestUser(t, "bob@example.com")
	ctx := context.Background()

	expires := env.clock.Now().Add(time.Hour)
	if err := env.ledger.Create(ctx, "jti-a", alice.ID, expires); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name   string
		jti    string
		userID int64
		want   bool
	}{
		{"owner", "jti-a", alice.ID, true},
		{"other user", "jti-a", bob.ID, false},
		{"unknown jti", "jti-x", alice.ID, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active, exp, err := env.ledger.IsActive(ctx, tt.jti, tt.userID)
			if err != nil {
				t.Fatalf("IsActive() error = %v", err)
			}
			if active != tt.want {
				t.Errorf("IsActive() = %v, want %v", active, tt.want)
			}
			if tt.want && !exp.Equal(expires) {
				t.Errorf("IsActive() expiresAt = %v, want %v", exp, expires)
			}
		})
	}
}

func TestLedger_RevokeIsConditional(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedTestUser(t, "alice@example.com")
	bob := env.seedTestUser(t, "bob@example.com")
	ctx := context.Background()

	if err := env.ledger.Create(ctx, "jti-a", alice.ID, env.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if n, err := env.ledger.Revoke(ctx, "jti-a", bob.ID); err != nil || n != 0 {
		t.Errorf("Revoke() by other user = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := env.ledger.Revoke(ctx, "jti-a", alice.ID); err != nil || n != 1 {
		t.Errorf("Revoke() first = (%d, %v), want (1, nil)", n, err)
	}
	if n, err := env.ledger.Revoke(ctx, "jti-a", alice.ID); err != nil || n != 0 {
		t.Errorf("Revoke() second = (%d, %v), want (0, nil)", n, err)
	}

	rec, err := env.ledger.Get(ctx, "jti-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Active {
		t.Error("revoked record should be retained as inactive")
	}
}

func TestLedger_RevokeAllForUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedTestUser(t, "alice@example.com")
	bob := env.seedTestUser(t, "bob@example.com")
	ctx := context.Background()

	expires := env.clock.Now().Add(time.Hour)
	for _, jti := range []string{"a1", "a2", "a3"} {
		if err := env.ledger.Create(ctx, jti, alice.ID, expires); err != nil {
			t.Fatalf("Create(%s) error = %v", jti, err)
		}
	}
	if err := env.ledger.Create(ctx, "b1", bob.ID, expires); err != nil {
		t.Fatalf("Create(b1) error = %v", err)
	}
	if _, err := env.ledger.Revoke(ctx, "a1", alice.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	n, err := env.ledger.RevokeAllForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RevokeAllForUser() = %d, want 2 (a1 was already revoked)", n)
	}

	if n, _ := env.ledger.RevokeAllForUser(ctx, alice.ID); n != 0 {
		t.Errorf("RevokeAllForUser() again = %d, want 0", n)
	}

	if active, _, _ := env.ledger.IsActive(ctx, "b1", bob.ID); !active {
		t.Error("other user's token should stay active")
	}
}

func TestLedger_ListActiveByUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedTestUser(t, "list@example.com")
	ctx := context.Background()
	now := env.clock.Now()

	if err := env.ledger.Create(ctx, "live", user.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := env.ledger.Create(ctx, "revoked", user.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := env.ledger.Create(ctx, "expired", user.ID, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := env.ledger.Revoke(ctx, "revoked", user.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	records, err := env.ledger.ListActiveByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListActiveByUser() error = %v", err)
	}
	if len(records) != 1 || records[0].JTI != "live" {
		t.Errorf("ListActiveByUser() = %+v, want only \"live\"", records)
	}
}

func TestLedger_PurgeExpired(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedTestUser(t, "purge@example.com")
	ctx := context.Background()
	now := env.clock.Now()

	for jti, exp := range map[string]time.Time{
		"old":     now.Add(-48 * time.Hour),
		"recent":  now.Add(-time.Hour),
		"current": now.Add(time.Hour),
	} {
		if err := env.ledger.Create(ctx, jti, user.ID, exp); err != nil {
			t.Fatalf("Create(%s) error = %v", jti, err)
		}
	}

	n, err := env.ledger.PurgeExpired(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}

	if _, err := env.ledger.Get(ctx, "old"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Get(old) error = %v, want ErrTokenNotFound", err)
	}
	for _, jti := range []string{"recent", "current"} {
		if _, err := env.ledger.Get(ctx, jti); err != nil {
			t.Errorf("Get(%s) error = %v, want retained", jti, err)
		}
	}
}

func TestLedger_RevokeRollsBackWithTransaction(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedTestUser(t, "tx@example.com")
	ctx := context.Background()

	if err := env.ledger.Create(ctx, "jti-tx", user.ID, env.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sentinel := errors.New("abort")
	err := NewTransactor(env.db).WithinTx(ctx, func(ctx context.Context) error {
		n, err := env.ledger.Revoke(ctx, "jti-tx", user.ID)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("Revoke() inside tx = %d, want 1", n)
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithinTx() error = %v, want sentinel unchanged", err)
	}

	if active, _, _ := env.ledger.IsActive(ctx, "jti-tx", user.ID); !active {
		t.Error("revoke should have been rolled back")
	}
}
