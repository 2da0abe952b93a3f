package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"telestream/internal/stream"
	"telestream/internal/telegram"
)

// GroupFiles lists the media objects of one container. The container id 0
// addresses the account's own saved-messages folder.
func (h *Handler) GroupFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/files/group/")
	groupID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid group id"))
		return
	}
	objects, err := h.Directory.List(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, telegram.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("group not found"))
			return
		}
		h.Logger.Error("list files failed", "group", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	files := make([]map[string]interface{}, 0, len(objects))
	for _, obj := range objects {
		files = append(files, map[string]interface{}{
			"id":       obj.ID,
			"name":     obj.Name,
			"size":     obj.Size,
			"mime":     obj.MimeType,
			"duration": obj.Duration,
			"width":    obj.Width,
			"height":   obj.Height,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"files":   files,
	})
}

// FileStream serves an object's bytes with single-range support. Response
// headers are committed before the first chunk fetch, so mid-stream fetch
// failures surface as short bodies rather than error statuses.
func (h *Handler) FileStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/files/")
	idRaw, ok := strings.CutSuffix(rest, "/stream")
	if !ok || strings.Contains(idRaw, "/") {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	fileID, err := strconv.Atoi(idRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid file id"))
		return
	}
	var groupID int64
	if raw := r.URL.Query().Get("groupId"); raw != "" {
		groupID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid groupId"))
			return
		}
	}

	obj, err := h.Directory.Resolve(r.Context(), fileID, groupID)
	if err != nil {
		if errors.Is(err, telegram.ErrNotFound) {
			writeErrorDetails(w, http.StatusNotFound, "File not found", map[string]interface{}{
				"fileId":  fileID,
				"groupId": groupID,
			})
			return
		}
		h.Logger.Error("resolve file failed", "file", fileID, "group", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if h.MaxFileSize > 0 && obj.Size > h.MaxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds maximum streamable size of %d bytes", h.MaxFileSize))
		return
	}

	start, end := int64(0), obj.Size-1
	status := http.StatusOK
	if header := r.Header.Get("Range"); header != "" {
		start, end, err = parseRange(header, obj.Size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", obj.Size))
			writeErrorDetails(w, http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable", map[string]interface{}{
				"start": start,
				"size":  obj.Size,
			})
			return
		}
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, obj.Size))
	}

	mime := obj.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(status)

	written, err := h.Engine.Stream(r.Context(), flushingWriter(w), stream.Request{
		Locator: obj.Locator,
		Size:    obj.Size,
		Start:   start,
		End:     end,
	})
	if err != nil {
		h.Logger.Warn("stream ended early", "file", obj.ID, "written", written, "error", err)
	}
}

// parseRange understands the single-range form "bytes=start-end" with an
// optional end. Suffix ranges and multipart ranges are not supported.
func parseRange(header string, size int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, errors.New("unsupported range unit")
	}
	startRaw, endRaw, ok := strings.Cut(spec, "-")
	if !ok || startRaw == "" {
		return 0, 0, errors.New("malformed range")
	}
	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errors.New("malformed range start")
	}
	if start >= size {
		return start, 0, errors.New("range start beyond end of file")
	}
	end := size - 1
	if endRaw != "" {
		end, err = strconv.ParseInt(endRaw, 10, 64)
		if err != nil || end < start {
			return start, end, errors.New("malformed range end")
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, nil
}

type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func flushingWriter(w http.ResponseWriter) flushWriter {
	f, _ := w.(http.Flusher)
	return flushWriter{w: w, f: f}
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil && fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}
