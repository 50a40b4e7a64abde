package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
	_ "github.com/nerrad567/chatgate-core/migrations" // registers the schema
)

const (
	testSecret     = "test-secret-key-for-jwt-signing-0123456789"
	testPassword   = "test-password"
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 7 * 24 * time.Hour
)

// testPasswordParams keeps Argon2id cheap so service tests stay fast.
var testPasswordParams = PasswordParams{Time: 1, MemoryKiB: 1024, Threads: 1, MaxConcurrent: 4}

// testDB creates a temporary SQLite database with the migrations applied.
// The database file is cleaned up when the test completes.
func testDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// fakeClock is a settable clock shared by the codec, ledger and service.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink captures events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

func (r *recordingSink) Has(t EventType) bool {
	for _, got := range r.Types() {
		if got == t {
			return true
		}
	}
	return false
}

// testEnv wires a Service over a fresh database with the default groups:
// "user" grants chat and conversation, "admin" also add_more_model_config.
type testEnv struct {
	db        *sql.DB
	clock     *fakeClock
	users     *SQLiteUserStore
	ledger    *SQLiteLedger
	codec     *Codec
	passwords *PasswordVerifier
	events    *recordingSink
	svc       *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLedger(t, nil)
}

// newTestEnvWithLedger lets a test wrap the SQLite ledger to inject faults.
func newTestEnvWithLedger(t *testing.T, wrap func(*SQLiteLedger) Ledger) *testEnv {
	t.Helper()

	env := &testEnv{
		db:     testDB(t),
		clock:  newFakeClock(),
		events: &recordingSink{},
	}
	env.users = NewUserStore(env.db, env.clock.Now)
	env.ledger = NewLedger(env.db, env.clock.Now)

	var err error
	env.codec, err = NewCodec(CodecConfig{Secret: []byte(testSecret), Now: env.clock.Now})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	env.passwords, err = NewPasswordVerifier(testPasswordParams)
	if err != nil {
		t.Fatalf("NewPasswordVerifier() error = %v", err)
	}

	var ledger Ledger = env.ledger
	if wrap != nil {
		ledger = wrap(env.ledger)
	}

	env.svc, err = NewService(ServiceDeps{
		Users:     env.users,
		Ledger:    ledger,
		Tx:        NewTransactor(env.db),
		Codec:     env.codec,
		Passwords: env.passwords,
		Events:    env.events,
		Now:       env.clock.Now,
		Config: ServiceConfig{
			AccessTTL:    testAccessTTL,
			RefreshTTL:   testRefreshTTL,
			DefaultGroup: "user",
		},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	seedTestGroups(t, env.users)
	return env
}

func seedTestGroups(t *testing.T, store *SQLiteUserStore) {
	t.Helper()
	ctx := context.Background()

	for _, name := range []string{"chat", "conversation", "add_more_model_config"} {
		if _, err := store.EnsureScope(ctx, name, ""); err != nil {
			t.Fatalf("EnsureScope(%s) error = %v", name, err)
		}
	}
	if _, err := store.EnsureGroup(ctx, "user", []string{"chat", "conversation"}); err != nil {
		t.Fatalf("EnsureGroup(user) error = %v", err)
	}
	if _, err := store.EnsureGroup(ctx, "admin", []string{"chat", "conversation", "add_more_model_config"}); err != nil {
		t.Fatalf("EnsureGroup(admin) error = %v", err)
	}
}

// seedTestUser inserts an enabled user with testPassword and returns it.
func (env *testEnv) seedTestUser(t *testing.T, email string, groups ...string) *User {
	t.Helper()

	hash, err := env.passwords.Hash(context.Background(), testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{Email: email, Name: email, PasswordHash: hash, Enabled: true}
	if err := env.users.Create(context.Background(), user, groups...); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// login is Login that fails the test on error.
func (env *testEnv) login(t *testing.T, email string, scopes ...string) *TokenPair {
	t.Helper()

	pair, err := env.svc.Login(context.Background(), email, testPassword, scopes...)
	if err != nil {
		t.Fatalf("Login(%s) error = %v", email, err)
	}
	return pair
}
