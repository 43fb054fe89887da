package httpx

import (
	"net/http"

	"github.com/ordinaut/ordinaut/internal/service"
)

// RunHandlers serves the /api/runs resource.
type RunHandlers struct {
	Runs *service.RunService
}

// Get handles GET /api/runs/{id}: the full run record including per-step
// error location and the pipeline output document.
func (h *RunHandlers) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.Runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}
