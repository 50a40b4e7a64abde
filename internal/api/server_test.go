package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/chatgate-core/internal/infrastructure/config"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/logging"
)

func TestNew_RequiresDeps(t *testing.T) {
	api := testServer(t)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Auth: api.srv.auth}},
		{"no auth service", Deps{Logger: logging.Discard()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestNew_DefaultsCookie(t *testing.T) {
	api := testServer(t)

	srv, err := New(Deps{Logger: logging.Discard(), Auth: api.srv.auth})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.cfg.Cookie.Name != "refresh_token" || srv.cfg.Cookie.Path != "/" {
		t.Errorf("cookie = %+v, want refresh_token at /", srv.cfg.Cookie)
	}
}

func TestHealth(t *testing.T) {
	api := testServer(t)

	w := api.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "ok" || body["database"] != "ok" {
		t.Errorf("health = %v, want status ok and database ok", body)
	}
	if v, _ := body["schema_version"].(string); v == "" {
		t.Errorf("schema_version = %v, want the applied migration", body["schema_version"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if _, ok := body["dependencies"]; ok {
		t.Error("dependencies should be absent without dependency checks")
	}
}

type stubChecker struct{ err error }

func (p stubChecker) HealthCheck(context.Context) error { return p.err }

func TestHealth_ReportsDependencies(t *testing.T) {
	api := testServer(t)
	api.srv.checks = map[string]HealthChecker{
		"mqtt":     stubChecker{},
		"influxdb": stubChecker{err: errors.New("influxdb: not connected")},
	}

	w := api.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200 with a broker down", w.Code)
	}

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	decodeBody(t, w, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Dependencies["mqtt"] != "ok" || body.Dependencies["influxdb"] != "unavailable" {
		t.Errorf("dependencies = %v, want mqtt ok and influxdb unavailable", body.Dependencies)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	api := testServer(t)
	api.db.Close() //nolint:errcheck // simulating an outage

	w := api.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	api := testServer(t)

	w := api.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	api := testServer(t)

	w := api.do(t, http.MethodGet, "/api/v1/health", nil, func(r *http.Request) {
		r.Header.Set("X-Request-ID", "client-123")
	})
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	api := testServer(t)

	w := api.do(t, http.MethodOptions, "/api/v1/user/login", nil, func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:3000")
	})

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("ACAC = %q, want true so the refresh cookie is sent", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	api := testServerWithConfig(t, config.APIConfig{
		CORS: config.CORSConfig{AllowedOrigins: []string{"https://chat.example.com"}},
	})

	w := api.do(t, http.MethodGet, "/api/v1/health", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example.com")
	})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty for a disallowed origin", got)
	}
}

func TestNotFound(t *testing.T) {
	api := testServer(t)

	w := api.do(t, http.MethodGet, "/api/v1/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if e := errorCode(t, w); e.Code != ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestBodySizeLimit(t *testing.T) {
	api := testServer(t)

	huge := map[string]string{"email": "big@example.com", "password": string(make([]byte, maxRequestBodySize))}
	w := api.do(t, http.MethodPost, "/api/v1/user/login", huge)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	port := 19180
	api := testServerWithConfig(t, config.APIConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
	})
	srv := api.srv

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	// Wait for server to be ready
	time.Sleep(100 * time.Millisecond)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	api := testServer(t)
	if err := api.srv.Close(); err != nil {
		t.Errorf("Close() on unstarted server error = %v", err)
	}
}
