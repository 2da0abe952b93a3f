package api

import (
	"errors"
	"net/http"

	"telestream/internal/auth"
	"telestream/internal/telegram"
)

// AuthStatus reports the login state machine's position. A missing API
// credential pair is not an error here: the response simply carries
// setup=false so clients know to call /auth/setup first.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	snap, err := h.Auth.EnsureConnected(r.Context())
	if err != nil && !errors.Is(err, auth.ErrNotConfigured) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"isAuthenticated": snap.Authenticated,
		"needsPassword":   snap.NeedsPassword,
		"setup":           snap.Configured,
	})
}

func (h *Handler) AuthSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload struct {
		APIID   flexID `json:"apiId"`
		APIHash string `json:"apiHash"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.APIID == 0 || payload.APIHash == "" {
		writeError(w, http.StatusBadRequest, errors.New("apiId and apiHash are required"))
		return
	}
	if err := h.Auth.Setup(int(payload.APIID), payload.APIHash); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) SendCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, errors.New("phoneNumber is required"))
		return
	}
	sent, err := h.Auth.RequestCode(r.Context(), payload.PhoneNumber)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.Logger.Error("send code failed", "error", err)
		writeErrorDetails(w, http.StatusInternalServerError, err.Error(), "Failed to send verification code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"phoneCodeHash": sent.PhoneCodeHash,
		"timeout":       sent.Timeout,
	})
}

func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Code == "" {
		writeError(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}
	result, err := h.Auth.VerifyCode(r.Context(), payload.Code)
	switch {
	case err == nil && result.NeedsPassword:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":       false,
			"needsPassword": true,
			"message":       "2FA password required",
		})
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"session": result.SessionToken,
			"user":    userPayload(result.User),
		})
	case errors.Is(err, auth.ErrSequence):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, telegram.ErrCodeInvalid):
		writeErrorDetails(w, http.StatusInternalServerError, err.Error(), "Failed to verify code")
	default:
		h.Logger.Error("verify code failed", "error", err)
		writeErrorDetails(w, http.StatusInternalServerError, err.Error(), "Failed to verify code")
	}
}

func (h *Handler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("password is required"))
		return
	}
	result, err := h.Auth.VerifyPassword(r.Context(), payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrNoPasswordPending) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.Logger.Error("verify password failed", "error", err)
		writeErrorDetails(w, http.StatusInternalServerError, err.Error(), "Failed to verify password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": result.SessionToken,
	})
}

func userPayload(u telegram.User) map[string]interface{} {
	return map[string]interface{}{
		"id":        u.ID,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"username":  u.Username,
	}
}
