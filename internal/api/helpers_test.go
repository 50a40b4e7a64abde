package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/chatgate-core/internal/audit"
	"github.com/nerrad567/chatgate-core/internal/auth"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/config"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/logging"
	_ "github.com/nerrad567/chatgate-core/migrations" // registers the schema
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "test-password"
)

// testAPI bundles a server wired to a real auth service over a temp database.
type testAPI struct {
	srv     *Server
	router  http.Handler
	db      *database.DB
	users   *auth.SQLiteUserStore
	metrics *Metrics
}

// testServer creates a Server over a migrated temp-file SQLite database with
// the "user" and "admin" groups seeded.
func testServer(t *testing.T) *testAPI {
	t.Helper()
	return testServerWithConfig(t, config.APIConfig{
		Host:     "127.0.0.1",
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		Cookie:   config.CookieConfig{Name: "refresh_token", Path: "/", SameSite: "lax"},
	})
}

func testServerWithConfig(t *testing.T, cfg config.APIConfig) *testAPI {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	users := auth.NewUserStore(db.DB, nil)
	codec, err := auth.NewCodec(auth.CodecConfig{Secret: []byte(testSecret)})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	passwords, err := auth.NewPasswordVerifier(auth.PasswordParams{Time: 1, MemoryKiB: 1024, Threads: 1, MaxConcurrent: 4})
	if err != nil {
		t.Fatalf("NewPasswordVerifier() error = %v", err)
	}

	if _, err := auth.SeedDefaults(ctx, users, passwords, auth.SeedConfig{
		Scopes: []auth.SeedScope{{Name: "chat"}, {Name: "conversation"}, {Name: "add_more_model_config"}},
		Groups: []auth.SeedGroup{
			{Name: "user", Scopes: []string{"chat", "conversation"}},
			{Name: "admin", Scopes: []string{"chat", "conversation", "add_more_model_config"}},
		},
	}, logging.Discard().Logger); err != nil {
		t.Fatalf("SeedDefaults() error = %v", err)
	}

	metrics := NewMetrics()
	trail := audit.NewSQLiteRepository(db.DB, nil)
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:     users,
		Ledger:    auth.NewLedger(db.DB, nil),
		Tx:        auth.NewTransactor(db.DB),
		Codec:     codec,
		Passwords: passwords,
		Events:    auth.MultiSink{metrics, audit.NewSink(trail, nil)},
		Config: auth.ServiceConfig{
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   24 * time.Hour,
			DefaultGroup: "user",
		},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	srv, err := New(Deps{
		Config:  cfg,
		Logger:  logging.Discard(),
		Auth:    svc,
		Audit:   trail,
		DB:      db,
		Metrics: metrics,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testAPI{srv: srv, router: srv.buildRouter(), db: db, users: users, metrics: metrics}
}

// do sends a request through the router. body is JSON-encoded when non-nil.
func (a *testAPI) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

// register creates an account through the API and returns the response.
func (a *testAPI) register(t *testing.T, email string) registerResult {
	t.Helper()

	w := a.do(t, http.MethodPost, "/api/v1/user/register", map[string]string{
		"email": email, "name": "Test User", "password": testPassword,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp registerResult
	decodeBody(t, w, &resp)
	resp.Cookie = refreshCookie(t, w)
	return resp
}

// registerResult mirrors registerResponse for decoding.
type registerResult struct {
	User struct {
		ID     int64    `json:"id"`
		Email  string   `json:"email"`
		Scopes []string `json:"scopes"`
	} `json:"user"`
	Tokens tokenResult `json:"tokens"`
	Cookie *http.Cookie
}

type tokenResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int64    `json:"expires_in"`
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// refreshCookie returns the refresh cookie set by the response.
func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	t.Fatalf("response did not set the refresh_token cookie")
	return nil
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	decodeBody(t, w, &e)
	return e
}
