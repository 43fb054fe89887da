package httpx

import (
	"net/http"

	"github.com/ordinaut/ordinaut/internal/service"
)

// HealthHandlers serves the unauthenticated probe endpoints.
type HealthHandlers struct {
	Health *service.HealthService
}

// Live handles GET /health/live: process liveness, no dependencies touched.
func (h *HealthHandlers) Live(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"alive": h.Health.Live()})
}

// Ready handles GET /health/ready: the database answers and at least one
// worker heartbeat is live.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.Health.Ready(r.Context()); err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "not_ready",
			Err:     err,
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// Check handles GET /health: the full operator view with queue backlog,
// run stats, and live worker/scheduler heartbeats.
func (h *HealthHandlers) Check(w http.ResponseWriter, r *http.Request) {
	status := h.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}
