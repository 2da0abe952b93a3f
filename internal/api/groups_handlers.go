package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"telestream/internal/telegram"
)

// Groups lists every container the account can see. IDs are serialized as
// strings because several dialog kinds carry 64-bit identifiers that
// JavaScript clients cannot represent as numbers.
func (h *Handler) Groups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	containers, err := h.Directory.Containers(r.Context())
	if err != nil {
		h.Logger.Error("list groups failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	payload := make([]map[string]interface{}, 0, len(containers))
	for _, c := range containers {
		payload = append(payload, groupPayload(c, false))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) GroupByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/groups/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid group id"))
		return
	}
	container, err := h.Directory.Container(r.Context(), id)
	if err != nil {
		if errors.Is(err, telegram.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("group not found"))
			return
		}
		h.Logger.Error("fetch group failed", "group", id, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, groupPayload(container, true))
}

func groupPayload(c telegram.Container, detailed bool) map[string]interface{} {
	payload := map[string]interface{}{
		"id":          strconv.FormatInt(c.ID, 10),
		"name":        c.Title,
		"type":        c.Type,
		"memberCount": c.MemberCount,
	}
	if detailed {
		payload["about"] = c.About
	}
	return payload
}
