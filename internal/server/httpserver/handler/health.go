package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/memsnap-go/internal/infra/buildinfo"
)

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: buildinfo.Get().Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReady handles GET /ready. The service is ready when the backend
// can list its artifacts.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.backend.List(r.Context()); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "ready",
		Backend: h.cfg.BackendName,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}
