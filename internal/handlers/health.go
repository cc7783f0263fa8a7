package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lessongate/internal/blob"
	"lessongate/pkg/logging/logging"
)

const healthPingTimeout = 2 * time.Second

// HealthHandler answers liveness checks. Stores backed by a remote service
// are pinged so a lost connection shows up as 503.
type HealthHandler struct {
	store blob.Store
}

func NewHealthHandler(store blob.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// Get handles GET /healthz.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store.(blob.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logging.L(r.Context()).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store_unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
