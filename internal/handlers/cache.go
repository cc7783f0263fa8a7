package handlers

import (
	"context"
	"net/http"

	"lessongate/internal/cache"
)

// CacheAdmin is implemented by *cache.TopicCache.
type CacheAdmin interface {
	Stats(ctx context.Context) (cache.Stats, error)
	ClearExpired(ctx context.Context) int
	ClearAll(ctx context.Context) int
}

type CacheHandler struct {
	cache CacheAdmin
}

func NewCacheHandler(c CacheAdmin) *CacheHandler {
	return &CacheHandler{cache: c}
}

type clearResponse struct {
	Removed int `json:"removed"`
}

// Stats handles GET /api/cache/stats.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.cache.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ClearExpired handles POST /api/cache/clear-expired.
func (h *CacheHandler) ClearExpired(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clearResponse{Removed: h.cache.ClearExpired(r.Context())})
}

// ClearAll handles DELETE /api/cache.
func (h *CacheHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clearResponse{Removed: h.cache.ClearAll(r.Context())})
}
