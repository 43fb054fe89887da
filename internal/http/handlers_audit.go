package httpx

import (
	"net/http"

	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/service"
)

// AuditHandlers serves GET /api/audit for operators.
type AuditHandlers struct {
	Audit *service.AuditService
}

// List handles GET /api/audit with optional action and subject filters.
func (h *AuditHandlers) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := model.AuditListOptions{}

	if action := query.Get("action"); action != "" {
		opts.Action = &action
	}
	if subject := query.Get("subject_id"); subject != "" {
		opts.SubjectID = &subject
	}
	opts.Limit, opts.Offset = pagination(query.Get("limit"), query.Get("offset"))

	entries, err := h.Audit.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
