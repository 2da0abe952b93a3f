package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"telestream/internal/auth"
	"telestream/internal/config"
	"telestream/internal/directory"
	"telestream/internal/stream"
	"telestream/internal/telegram"
	"telestream/internal/testsupport"
)

func newTestHandler(t *testing.T, backend *testsupport.FakeBackend) (*Handler, config.Store) {
	t.Helper()
	store, err := config.NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	backend.Store = store
	manager := auth.NewManager(backend, store, nil)
	engine := stream.New(backend, stream.WithChunkSize(16), stream.WithParallelism(4))
	return NewHandler(manager, directory.New(backend), engine, nil), store
}

func configured(t *testing.T, store config.Store) {
	t.Helper()
	if _, err := store.Update(func(s *config.Settings) {
		s.APIID = 12345
		s.APIHash = "hash"
	}); err != nil {
		t.Fatalf("configure store: %v", err)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestStatusReportsAuthState(t *testing.T) {
	handler, _ := newTestHandler(t, &testsupport.FakeBackend{})

	rec := httptest.NewRecorder()
	handler.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["status"] != "running" {
		t.Fatalf("expected running status, got %v", payload["status"])
	}
	if payload["authenticated"] != false {
		t.Fatalf("expected authenticated=false, got %v", payload["authenticated"])
	}
}

func TestAuthStatusBeforeSetup(t *testing.T) {
	handler, _ := newTestHandler(t, &testsupport.FakeBackend{})

	rec := httptest.NewRecorder()
	handler.AuthStatus(rec, httptest.NewRequest(http.MethodGet, "/auth/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["setup"] != false {
		t.Fatalf("expected setup=false, got %v", payload["setup"])
	}
	if payload["isAuthenticated"] != false {
		t.Fatalf("expected isAuthenticated=false, got %v", payload["isAuthenticated"])
	}
}

func TestAuthSetupPersistsCredentials(t *testing.T) {
	handler, store := newTestHandler(t, &testsupport.FakeBackend{})

	rec := httptest.NewRecorder()
	handler.AuthSetup(rec, postJSON("/auth/setup", `{"apiId":12345,"apiHash":"abcdef"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	snap := store.Snapshot()
	if snap.APIID != 12345 || snap.APIHash != "abcdef" {
		t.Fatalf("credentials not persisted: %+v", snap)
	}
}

func TestAuthSetupAcceptsStringID(t *testing.T) {
	handler, store := newTestHandler(t, &testsupport.FakeBackend{})

	rec := httptest.NewRecorder()
	handler.AuthSetup(rec, postJSON("/auth/setup", `{"apiId":"6789","apiHash":"abcdef"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := store.Snapshot().APIID; got != 6789 {
		t.Fatalf("expected apiId 6789, got %d", got)
	}
}

func TestAuthSetupRejectsMissingFields(t *testing.T) {
	handler, _ := newTestHandler(t, &testsupport.FakeBackend{})

	for _, body := range []string{`{}`, `{"apiId":1}`, `{"apiHash":"x"}`, `not json`} {
		rec := httptest.NewRecorder()
		handler.AuthSetup(rec, postJSON("/auth/setup", body))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestSendCodeReturnsHashAndTimeout(t *testing.T) {
	backend := &testsupport.FakeBackend{
		SentCode: telegram.SentCode{PhoneCodeHash: "abc123", Timeout: 120},
	}
	handler, store := newTestHandler(t, backend)
	configured(t, store)

	rec := httptest.NewRecorder()
	handler.SendCode(rec, postJSON("/auth/send-code", `{"phoneNumber":"+15551234567"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["success"] != true {
		t.Fatalf("expected success=true, got %v", payload["success"])
	}
	if payload["phoneCodeHash"] != "abc123" {
		t.Fatalf("expected phoneCodeHash abc123, got %v", payload["phoneCodeHash"])
	}
	if payload["timeout"] != float64(120) {
		t.Fatalf("expected timeout 120, got %v", payload["timeout"])
	}
}

func TestSendCodeWithoutCredentialsFails(t *testing.T) {
	handler, _ := newTestHandler(t, &testsupport.FakeBackend{})

	rec := httptest.NewRecorder()
	handler.SendCode(rec, postJSON("/auth/send-code", `{"phoneNumber":"+15551234567"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSendCodeRequiresPhoneNumber(t *testing.T) {
	handler, store := newTestHandler(t, &testsupport.FakeBackend{})
	configured(t, store)

	rec := httptest.NewRecorder()
	handler.SendCode(rec, postJSON("/auth/send-code", `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVerifyCodeReturnsSessionAndUser(t *testing.T) {
	backend := &testsupport.FakeBackend{
		SignInUser: telegram.User{ID: 42, FirstName: "Ada", Username: "ada"},
	}
	handler, store := newTestHandler(t, backend)
	configured(t, store)

	rec := httptest.NewRecorder()
	handler.SendCode(rec, postJSON("/auth/send-code", `{"phoneNumber":"+15551234567"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("send code: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.VerifyCode(rec, postJSON("/auth/verify-code", `{"code":"11111"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["success"] != true {
		t.Fatalf("expected success=true, got %v", payload)
	}
	if payload["session"] != "fake-session-token" {
		t.Fatalf("expected session token, got %v", payload["session"])
	}
	user, ok := payload["user"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected user object, got %v", payload["user"])
	}
	if user["firstName"] != "Ada" || user["username"] != "ada" {
		t.Fatalf("unexpected user payload %v", user)
	}
}

func TestVerifyCodeBeforeSendCodeIsRejected(t *testing.T) {
	handler, store := newTestHandler(t, &testsupport.FakeBackend{})
	configured(t, store)

	rec := httptest.NewRecorder()
	handler.VerifyCode(rec, postJSON("/auth/verify-code", `{"code":"11111"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyCodeSignalsPasswordRequirement(t *testing.T) {
	backend := &testsupport.FakeBackend{SignInErr: telegram.ErrPasswordNeeded}
	handler, store := newTestHandler(t, backend)
	configured(t, store)

	rec := httptest.NewRecorder()
	handler.SendCode(rec, postJSON("/auth/send-code", `{"phoneNumber":"+15551234567"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("send code: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.VerifyCode(rec, postJSON("/auth/verify-code", `{"code":"11111"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["success"] != false || payload["needsPassword"] != true {
		t.Fatalf("expected needsPassword signal, got %v", payload)
	}

	backend.SignInErr = nil
	rec = httptest.NewRecorder()
	handler.VerifyPassword(rec, postJSON("/auth/verify-password", `{"password":"hunter2"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("verify password: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload = decodeBody(t, rec)
	if payload["success"] != true || payload["session"] != "fake-session-token" {
		t.Fatalf("unexpected password payload %v", payload)
	}
}

func TestVerifyPasswordWithoutPendingChallenge(t *testing.T) {
	handler, store := newTestHandler(t, &testsupport.FakeBackend{})
	configured(t, store)

	rec := httptest.NewRecorder()
	handler.VerifyPassword(rec, postJSON("/auth/verify-password", `{"password":"hunter2"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGroupsListsContainers(t *testing.T) {
	backend := &testsupport.FakeBackend{
		ContainerList: []telegram.Container{
			{ID: 100, Title: "Movies", Type: "group", MemberCount: 12},
			{ID: -1001234567890, Title: "Archive", Type: "channel", MemberCount: 3},
		},
	}
	handler, _ := newTestHandler(t, backend)

	rec := httptest.NewRecorder()
	handler.Groups(rec, httptest.NewRequest(http.MethodGet, "/groups", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(payload))
	}
	if payload[0]["id"] != "100" || payload[0]["name"] != "Movies" {
		t.Fatalf("unexpected first group %v", payload[0])
	}
	if payload[1]["id"] != "-1001234567890" {
		t.Fatalf("expected string id for large negative, got %v", payload[1]["id"])
	}
}

func TestGroupByID(t *testing.T) {
	backend := &testsupport.FakeBackend{
		ContainerList: []telegram.Container{
			{ID: 100, Title: "Movies", Type: "group", MemberCount: 12, About: "weeknight films"},
		},
	}
	handler, _ := newTestHandler(t, backend)

	rec := httptest.NewRecorder()
	handler.GroupByID(rec, httptest.NewRequest(http.MethodGet, "/groups/100", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["about"] != "weeknight films" {
		t.Fatalf("expected about field, got %v", payload)
	}

	rec = httptest.NewRecorder()
	handler.GroupByID(rec, httptest.NewRequest(http.MethodGet, "/groups/999", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown group, got %d", rec.Code)
	}
}

func TestGroupFilesShape(t *testing.T) {
	backend := &testsupport.FakeBackend{
		Media: map[int64][]telegram.MediaMessage{
			55: {
				{ID: 7, Filename: "clip.mp4", Size: 2048, MimeType: "video/mp4", Duration: 33, Width: 640, Height: 480, Locator: "clip"},
				{ID: 8, Size: 100, MimeType: "image/jpeg", Locator: "photo"},
			},
		},
	}
	handler, _ := newTestHandler(t, backend)

	rec := httptest.NewRecorder()
	handler.GroupFiles(rec, httptest.NewRequest(http.MethodGet, "/files/group/55", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	files, ok := payload["files"].([]interface{})
	if !ok || len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", payload["files"])
	}
	first := files[0].(map[string]interface{})
	if first["name"] != "clip.mp4" || first["mime"] != "video/mp4" {
		t.Fatalf("unexpected first file %v", first)
	}
	second := files[1].(map[string]interface{})
	if second["name"] != "File_8" {
		t.Fatalf("expected placeholder name, got %v", second["name"])
	}
}

func streamBackend(content []byte) *testsupport.FakeBackend {
	return &testsupport.FakeBackend{
		Media: map[int64][]telegram.MediaMessage{
			telegram.SavedMessages: {
				{ID: 1, Filename: "movie.mp4", Size: int64(len(content)), MimeType: "video/mp4", Locator: "movie"},
			},
		},
		Content: map[string][]byte{"movie": content},
	}
}

func TestFileStreamFullBody(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 10)
	handler, _ := newTestHandler(t, streamBackend(content))

	rec := httptest.NewRecorder()
	handler.FileStream(rec, httptest.NewRequest(http.MethodGet, "/files/1/stream", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Fatalf("expected video/mp4, got %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("expected Accept-Ranges bytes, got %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Fatalf("expected Content-Length 100, got %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatalf("body mismatch: got %d bytes", rec.Body.Len())
	}
}

func TestFileStreamPartialContent(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 10)
	handler, _ := newTestHandler(t, streamBackend(content))

	req := httptest.NewRequest(http.MethodGet, "/files/1/stream", nil)
	req.Header.Set("Range", "bytes=25-74")
	rec := httptest.NewRecorder()
	handler.FileStream(rec, req)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 25-74/100" {
		t.Fatalf("unexpected Content-Range %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "50" {
		t.Fatalf("expected Content-Length 50, got %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content[25:75]) {
		t.Fatalf("body mismatch: %q", rec.Body.String())
	}
}

func TestFileStreamClampsOpenEndedRange(t *testing.T) {
	content := bytes.Repeat([]byte("ab"), 50)
	handler, _ := newTestHandler(t, streamBackend(content))

	req := httptest.NewRequest(http.MethodGet, "/files/1/stream", nil)
	req.Header.Set("Range", "bytes=90-")
	rec := httptest.NewRecorder()
	handler.FileStream(rec, req)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 90-99/100" {
		t.Fatalf("unexpected Content-Range %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content[90:]) {
		t.Fatalf("body mismatch: %q", rec.Body.String())
	}
}

func TestFileStreamRejectsUnsatisfiableRanges(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 100)
	handler, _ := newTestHandler(t, streamBackend(content))

	for _, header := range []string{"bytes=100-", "bytes=500-600", "bytes=-50", "bytes=9-3", "items=0-1"} {
		backend := streamBackend(content)
		handler, _ = newTestHandler(t, backend)
		req := httptest.NewRequest(http.MethodGet, "/files/1/stream", nil)
		req.Header.Set("Range", header)
		rec := httptest.NewRecorder()
		handler.FileStream(rec, req)
		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("header %q: expected 416, got %d", header, rec.Code)
		}
		if calls := backend.FetchOffsets(); len(calls) != 0 {
			t.Fatalf("header %q: expected no chunk fetches, saw %v", header, calls)
		}
	}
}

func TestFileStreamUnknownFile(t *testing.T) {
	handler, _ := newTestHandler(t, &testsupport.FakeBackend{})

	rec := httptest.NewRecorder()
	handler.FileStream(rec, httptest.NewRequest(http.MethodGet, "/files/404/stream?groupId=9", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	details, ok := payload["details"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected details object, got %v", payload)
	}
	if details["fileId"] != float64(404) || details["groupId"] != float64(9) {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestFileStreamEnforcesMaxFileSize(t *testing.T) {
	content := bytes.Repeat([]byte("y"), 200)
	handler, _ := newTestHandler(t, streamBackend(content))
	handler.MaxFileSize = 100

	rec := httptest.NewRecorder()
	handler.FileStream(rec, httptest.NewRequest(http.MethodGet, "/files/1/stream", nil))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestFileStreamResolvesFromGroupHint(t *testing.T) {
	content := []byte("group-scoped payload")
	backend := &testsupport.FakeBackend{
		Media: map[int64][]telegram.MediaMessage{
			77: {{ID: 3, Filename: "doc.pdf", Size: int64(len(content)), MimeType: "application/pdf", Locator: "doc"}},
		},
		Content: map[string][]byte{"doc": content},
	}
	handler, _ := newTestHandler(t, backend)

	path := fmt.Sprintf("/files/3/stream?groupId=%d", 77)
	rec := httptest.NewRecorder()
	handler.FileStream(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatalf("body mismatch: %q", rec.Body.String())
	}
}
