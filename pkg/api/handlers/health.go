package handlers

import (
	"net/http"
	"time"

	"github.com/nats3-io/nats3/pkg/catalog"
)

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	cat catalog.Catalog
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(cat catalog.Catalog) *HealthHandler {
	return &HealthHandler{cat: cat}
}

type healthBody struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Healthz handles GET /healthz. It reports unhealthy when the catalog is
// unreachable, since no job can make durable progress without it.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.cat.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}
