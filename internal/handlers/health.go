package handlers

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandlers struct {
	db      Pinger
	started time.Time
}

func NewHealthHandlers(db Pinger) *HealthHandlers {
	return &HealthHandlers{db: db, started: time.Now()}
}

func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			payload["status"] = "unavailable"
			payload["database"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
	}

	respondJSON(w, http.StatusOK, payload)
}
