package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// SeedScope is a scope created at start-up.
type SeedScope struct {
	Name        string
	Description string
}

// SeedGroup is a group created at start-up with its scope grants.
type SeedGroup struct {
	Name   string
	Scopes []string
}

// SeedConfig describes the scopes, groups and first account to provision.
type SeedConfig struct {
	Scopes      []SeedScope
	Groups      []SeedGroup
	AdminEmail  string
	AdminName   string
	AdminGroups []string
}

// SeedDefaults makes sure the configured scopes and groups exist and, when
// the database has no users yet, creates an admin account with a random
// password. It is safe to run on every start.
//
// Returns the generated admin password, or "" when no admin was created.
// The password is not logged; the caller shows it once to the operator.
func SeedDefaults(ctx context.Context, store *SQLiteUserStore, passwords *PasswordVerifier, cfg SeedConfig, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, sc := range cfg.Scopes {
		if _, err := store.EnsureScope(ctx, sc.Name, sc.Description); err != nil {
			return "", fmt.Errorf("seeding scope %s: %w", sc.Name, err)
		}
	}
	for _, g := range cfg.Groups {
		if _, err := store.EnsureGroup(ctx, g.Name, g.Scopes); err != nil {
			return "", fmt.Errorf("seeding group %s: %w", g.Name, err)
		}
	}

	if cfg.AdminEmail == "" {
		return "", nil
	}

	count, err := store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := passwords.Hash(ctx, password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	name := cfg.AdminName
	if name == "" {
		name = "Administrator"
	}
	admin := &User{
		Email:        cfg.AdminEmail,
		Name:         name,
		PasswordHash: hash,
		Enabled:      true,
	}
	if err := store.Create(ctx, admin, cfg.AdminGroups...); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"email", admin.Email,
		"user_id", admin.ID,
		"action_required", "change the generated password immediately",
	)
	return password, nil
}

// Purger deletes records whose lifetime ended before a cutoff.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// RetentionConfig configures RunRetention.
type RetentionConfig struct {
	Ledger   Ledger
	Interval time.Duration

	// Window is how long expired records are kept for audit.
	Window time.Duration

	// Extra stores are purged on the same schedule with the same cutoff,
	// keyed by a name used in log lines.
	Extra map[string]Purger

	Now    func() time.Time
	Logger *slog.Logger
}

// RunRetention purges ledger records that expired more than Window ago,
// once immediately and then every Interval, until ctx is done.
//
// A non-positive Interval or a negative Window is rejected: nothing is
// purged and RunRetention returns after logging the settings.
func RunRetention(ctx context.Context, cfg RetentionConfig) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Interval <= 0 || cfg.Window < 0 {
		logger.Error("retention not started: invalid settings", "interval", cfg.Interval, "window", cfg.Window)
		return
	}

	targets := make(map[string]Purger, len(cfg.Extra)+1)
	for name, p := range cfg.Extra {
		targets[name] = p
	}
	targets["refresh_tokens"] = cfg.Ledger

	purge := func() {
		cutoff := now().Add(-cfg.Window)
		for name, p := range targets {
			deleted, err := p.PurgeExpired(ctx, cutoff)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("purging expired records failed", "store", name, "error", err)
				}
				continue
			}
			if deleted > 0 {
				logger.Info("purged expired records", "store", name, "count", deleted)
			}
		}
	}

	purge()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}
