package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/dennisdiepolder/kpiboard/internal/storage"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ProfileUpdate is the body of a profile write. Absent fields keep their
// stored values.
type ProfileUpdate struct {
	Name     *string     `json:"name"`
	Client   *string     `json:"client"`
	Position *string     `json:"position"`
	Role     *types.Role `json:"role"`
}

// RosterHandler handles the agent roster and profile endpoints
type RosterHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(store storage.Store, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		store:  store,
		logger: logger.With().Str("component", "roster").Logger(),
	}
}

// ListAgents handles GET /api/agents (admin). Admin accounts are left out.
func (h *RosterHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, "roster", err)
		return
	}

	out := make([]types.Agent, 0, len(agents))
	for _, a := range agents {
		if !a.IsAdmin() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayClient() != out[j].DisplayClient() {
			return out[i].DisplayClient() < out[j].DisplayClient()
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": out,
		"count":  len(out),
	})
}

// Me handles GET /api/me. Callers without a stored profile get one built
// from their token.
func (h *RosterHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	agent, err := h.store.GetAgent(r.Context(), claims.AgentID)
	if errors.Is(err, storage.ErrNotFound) {
		agent = types.Agent{
			AgentID: claims.AgentID,
			Name:    claims.Name,
			Email:   claims.Email,
			Client:  types.UnassignedClient,
			Role:    claims.Role,
		}
	} else if err != nil {
		writeStoreError(w, h.logger, "roster", err)
		return
	}
	agent.Role = agent.EffectiveRole()
	if claims.IsAdmin() {
		agent.Role = types.RoleAdmin
	}
	writeJSON(w, http.StatusOK, agent)
}

// GetAgent handles GET /api/agents/{agentId}
func (h *RosterHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, ok := authorizeAgent(w, r, agentID); !ok {
		return
	}

	agent, err := h.store.GetAgent(r.Context(), agentID)
	if err != nil {
		writeStoreError(w, h.logger, "roster", err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// UpdateAgent handles PUT /api/agents/{agentId}. Agents may edit their own
// profile; only admins may change a role.
func (h *RosterHandler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	claims, ok := authorizeAgent(w, r, agentID)
	if !ok {
		return
	}

	var req ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role != nil && !claims.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required to change roles")
		return
	}
	if req.Role != nil && *req.Role != types.RoleAgent && *req.Role != types.RoleAdmin {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	agent, err := h.store.GetAgent(r.Context(), agentID)
	if errors.Is(err, storage.ErrNotFound) {
		agent = types.Agent{AgentID: agentID}
	} else if err != nil {
		writeStoreError(w, h.logger, "roster", err)
		return
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Client != nil {
		agent.Client = *req.Client
	}
	if req.Position != nil {
		agent.Position = *req.Position
	}
	if req.Role != nil {
		agent.Role = *req.Role
	}
	if claims.AgentID == agentID && claims.Email != "" {
		agent.Email = claims.Email
	}

	saved, err := h.store.UpsertAgent(r.Context(), agent)
	if err != nil {
		writeStoreError(w, h.logger, "roster", err)
		return
	}

	h.logger.Info().
		Str("agent_id", saved.AgentID).
		Str("client", saved.Client).
		Str("position", saved.Position).
		Str("updated_by", updatedBy(claims)).
		Msg("profile updated")

	writeJSON(w, http.StatusOK, saved)
}
