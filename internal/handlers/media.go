package handlers

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lessongate/internal/blob"
	"lessongate/internal/content"
)

// MediaHandler serves rendered videos from the media store.
type MediaHandler struct {
	store blob.Store
}

func NewMediaHandler(store blob.Store) *MediaHandler {
	return &MediaHandler{store: store}
}

// Get handles GET /media/{sessionId}/{file}. Range requests are supported
// so players can seek.
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	file := chi.URLParam(r, "file")

	if err := uuid.Validate(sessionID); err != nil {
		writeError(w, r, invalidRequest("sessionId must be a UUID"))
		return
	}

	data, err := content.ReadMedia(r.Context(), h.store, sessionID, file)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
		return
	case err != nil:
		writeError(w, r, err)
		return
	}

	if ct := contentType(file); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeContent(w, r, file, time.Time{}, bytes.NewReader(data))
}

// The system mime table often lacks video types.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".gif":  "image/gif",
}

func contentType(file string) string {
	ext := strings.ToLower(path.Ext(file))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}
