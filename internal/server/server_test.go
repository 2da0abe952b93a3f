package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"telestream/internal/api"
	"telestream/internal/auth"
	"telestream/internal/config"
	"telestream/internal/directory"
	"telestream/internal/stream"
	"telestream/internal/telegram"
	"telestream/internal/testsupport"
)

func newTestServer(t *testing.T, backend *testsupport.FakeBackend, cfg Config) *Server {
	t.Helper()
	store, err := config.NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	backend.Store = store
	manager := auth.NewManager(backend, store, nil)
	handler := api.NewHandler(manager, directory.New(backend), stream.New(backend, stream.WithChunkSize(16)), nil)
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func configureCredentials(t *testing.T, backend *testsupport.FakeBackend) {
	t.Helper()
	if _, err := backend.Store.Update(func(s *config.Settings) {
		s.APIID = 12345
		s.APIHash = "hash"
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestAuthGateRejectsUnconfigured(t *testing.T) {
	srv := newTestServer(t, &testsupport.FakeBackend{}, Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["needsAuth"] != true {
		t.Fatalf("expected needsAuth flag, got %v", payload)
	}
}

func TestAuthGateRejectsUnauthenticated(t *testing.T) {
	backend := &testsupport.FakeBackend{}
	srv := newTestServer(t, backend, Config{})
	configureCredentials(t, backend)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if backend.ConnectCalls() != 1 {
		t.Fatalf("expected gate to attempt one connect, got %d", backend.ConnectCalls())
	}
}

func TestAuthGatePassesAuthenticatedTraffic(t *testing.T) {
	backend := &testsupport.FakeBackend{
		AuthorizedResult: true,
		ContainerList:    []telegram.Container{{ID: 1, Title: "Films", Type: "group"}},
	}
	srv := newTestServer(t, backend, Config{})
	configureCredentials(t, backend)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/groups", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("Films")) {
		t.Fatalf("expected group listing, got %s", rec.Body.String())
	}
}

func TestAuthGateExemptsLoginSurface(t *testing.T) {
	backend := &testsupport.FakeBackend{}
	srv := newTestServer(t, backend, Config{})

	for _, path := range []string{"/healthz", "/status", "/auth/status"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("path %s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestLoginThrottleLimitsPerIP(t *testing.T) {
	backend := &testsupport.FakeBackend{}
	srv := newTestServer(t, backend, Config{
		RateLimit: RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute},
	})
	configureCredentials(t, backend)

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/send-code", bytes.NewReader([]byte(`{"phoneNumber":"+15551234567"}`)))
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("10.0.0.1:4000"); rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
	if rec := send("10.0.0.1:4000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rec.Code)
	}
	if rec := send("10.0.0.2:4000"); rec.Code != http.StatusOK {
		t.Fatalf("other address should be unaffected, got %d", rec.Code)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, &testsupport.FakeBackend{}, Config{
		RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1},
	})

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/status", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", first.Code)
	}
	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/status", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", second.Code)
	}
}

func TestExtractClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "192.0.2.7:5123"
	if got := extractClientIP(req); got != "192.0.2.7" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 192.0.2.7")
	if got := extractClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
