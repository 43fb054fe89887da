package httpx

import (
	"net/http"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// EventHandlers serves POST /api/events: the HTTP path for firing
// event-kind tasks, equivalent to publishing on the stream bridge.
type EventHandlers struct {
	Publisher core.EventPublisher
}

// Publish handles POST /api/events.
func (h *EventHandlers) Publish(w http.ResponseWriter, r *http.Request) {
	var env model.EventEnvelope
	if !DecodeJSON(w, r, &env) {
		return
	}

	resp, err := h.Publisher.Publish(r.Context(), ActorFromContext(r.Context()), &env)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, resp)
}
