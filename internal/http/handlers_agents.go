package httpx

import (
	"net/http"

	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/ports"
	"github.com/ordinaut/ordinaut/internal/service"
)

// AgentHandlers serves the /api/agents resource.
type AgentHandlers struct {
	Agents *service.AgentService
	// Minter issues credentials for newly registered agents. Nil in OIDC
	// mode, where the provider owns issuance.
	Minter ports.TokenMinter
}

// agentWithToken is the registration response: the agent row plus, when the
// deployment mints its own credentials, a ready-to-use token.
type agentWithToken struct {
	*model.Agent
	Token string `json:"token,omitempty"`
}

// Create handles POST /api/agents.
func (h *AgentHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAgentRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	agent, err := h.Agents.Create(r.Context(), ActorFromContext(r.Context()), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	resp := agentWithToken{Agent: agent}
	if h.Minter != nil {
		token, mintErr := h.Minter.Mint(ports.MintInput{
			AgentID: agent.ID,
			Name:    agent.Name,
			Scopes:  agent.Scopes,
		})
		if mintErr != nil {
			WriteServiceError(w, mintErr)
			return
		}
		resp.Token = token
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// Get handles GET /api/agents/{id}.
func (h *AgentHandlers) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Agents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, agent)
}

// List handles GET /api/agents.
func (h *AgentHandlers) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := pagination(query.Get("limit"), query.Get("offset"))

	agents, err := h.Agents.List(r.Context(), limit, offset)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"agents": agents})
}
