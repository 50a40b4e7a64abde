package audit

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/chatgate-core/internal/auth"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
	_ "github.com/nerrad567/chatgate-core/migrations" // registers the schema
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit-test.db"),
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

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	return NewSQLiteRepository(testDB(t), func() time.Time { return testNow })
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	e := &Entry{Type: "login", UserID: 7, JTI: "jti-1"}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", e.ID)
	}
	if !e.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, testNow)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 || len(result.Entries) != 1 {
		t.Fatalf("List() = %+v, want one entry", result)
	}
	got := result.Entries[0]
	if got.ID != e.ID || got.Type != "login" || got.UserID != 7 || got.JTI != "jti-1" || got.Reason != "" {
		t.Errorf("List() entry = %+v, want %+v", got, e)
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	entries := []Entry{
		{Type: "login", UserID: 1, CreatedAt: testNow.Add(-3 * time.Minute)},
		{Type: "login_failed", Reason: "unknown_user", CreatedAt: testNow.Add(-2 * time.Minute)},
		{Type: "refresh", UserID: 1, CreatedAt: testNow.Add(-time.Minute)},
		{Type: "login", UserID: 2, CreatedAt: testNow},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"login", "refresh", "login_failed", "login"}},
		{"by type", Filter{Type: "login"}, []string{"login", "login"}},
		{"by user", Filter{UserID: 1}, []string{"refresh", "login"}},
		{"by type and user", Filter{Type: "login", UserID: 2}, []string{"login"}},
		{"paged", Filter{Limit: 1, Offset: 1}, []string{"refresh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var got []string
			for _, e := range result.Entries {
				got = append(got, e.Type)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("List() types = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestList_ClampsPaging(t *testing.T) {
	repo := testRepo(t)

	result, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != maxLimit || result.Offset != 0 {
		t.Errorf("paging = (%d, %d), want (%d, 0)", result.Limit, result.Offset, maxLimit)
	}
	if result.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}

	result, _ = repo.List(context.Background(), Filter{})
	if result.Limit != defaultLimit {
		t.Errorf("default Limit = %d, want %d", result.Limit, defaultLimit)
	}
}

func TestPurgeExpired(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for _, at := range []time.Time{testNow.Add(-48 * time.Hour), testNow.Add(-time.Hour), testNow} {
		if err := repo.Create(ctx, &Entry{Type: "login", UserID: 1, CreatedAt: at}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	n, err := repo.PurgeExpired(ctx, testNow.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}

	result, _ := repo.List(ctx, Filter{})
	if result.Total != 2 {
		t.Errorf("Total after purge = %d, want 2", result.Total)
	}
}

func TestCreate_SurvivesMissingUser(t *testing.T) {
	repo := testRepo(t)

	// No foreign key: entries may name users that no longer exist.
	if err := repo.Create(context.Background(), &Entry{Type: "revoke_all", UserID: 9999, Count: 3}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestSink_RecordsEvents(t *testing.T) {
	repo := testRepo(t)
	sink := NewSink(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink.Record(ctx, auth.Event{Type: auth.EventLoginFailed, UserID: 3, Reason: "bad_password", At: testNow})
	sink.Record(ctx, auth.Event{Type: auth.EventLogout, UserID: 3, JTI: "jti-9", Count: 1, At: testNow.Add(time.Second)})

	result, err := repo.List(context.Background(), Filter{UserID: 3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("Total = %d, want 2 even with a cancelled request context", result.Total)
	}
	logout := result.Entries[0]
	if logout.Type != "logout" || logout.JTI != "jti-9" || logout.Count != 1 {
		t.Errorf("newest entry = %+v, want the logout", logout)
	}
	if failed := result.Entries[1]; failed.Reason != "bad_password" {
		t.Errorf("Reason = %q, want bad_password", failed.Reason)
	}
}

type failingRepo struct{ Repository }

func (failingRepo) Create(context.Context, *Entry) error {
	return errors.New("database is locked")
}

func TestSink_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(failingRepo{}, slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Record(context.Background(), auth.Event{Type: auth.EventLogin, UserID: 1, At: testNow})

	if !strings.Contains(buf.String(), "recording audit entry failed") {
		t.Errorf("log = %q, want the failure logged", buf.String())
	}
}
