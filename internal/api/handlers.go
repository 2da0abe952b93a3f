package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"telestream/internal/auth"
	"telestream/internal/directory"
	"telestream/internal/stream"
)

type Handler struct {
	Auth      *auth.Manager
	Directory *directory.Directory
	Engine    *stream.Engine
	Logger    *slog.Logger

	// MaxFileSize caps the size of objects served by the stream endpoint.
	// Zero means no cap.
	MaxFileSize int64
}

func NewHandler(manager *auth.Manager, dir *directory.Directory, engine *stream.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Auth: manager, Directory: dir, Engine: engine, Logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

// WriteNeedsAuth emits the machine-readable unauthenticated response that
// clients use to fall back into the login flow.
func WriteNeedsAuth(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
		"error":     msg,
		"needsAuth": true,
	})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg string, details interface{}) {
	writeJSON(w, status, map[string]interface{}{"error": msg, "details": details})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

// flexID accepts both numeric and quoted-string identifiers, since CLI
// clients historically posted the API ID as a string.
type flexID int

func (f *flexID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.New("expected a number or numeric string")
		}
		n = json.Number(s)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("invalid numeric value %q", n.String())
	}
	*f = flexID(v)
	return nil
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports process health without touching the backend connection.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	snap := h.Auth.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "running",
		"authenticated": snap.Authenticated,
		"needsPassword": snap.NeedsPassword,
	})
}
