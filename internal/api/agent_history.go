package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/dennisdiepolder/kpiboard/internal/cache"
	"github.com/dennisdiepolder/kpiboard/internal/ranking"
	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/storage"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MonthTasksResponse is an agent's task progress for one month
type MonthTasksResponse struct {
	scoring.MonthAggregate
	Target    float64 `json:"target"`
	Remaining *int    `json:"remaining,omitempty"`
}

// PerformanceResponse is an agent's scored row and the weights behind it
type PerformanceResponse struct {
	Row     types.RankingRow         `json:"row"`
	Weights types.PerformanceWeights `json:"weights"`
}

// AgentHistoryHandler provides the per-agent task history and performance endpoints
type AgentHistoryHandler struct {
	store  storage.Store
	state  *cache.State
	engine *ranking.Engine
	logger zerolog.Logger
}

// NewAgentHistoryHandler creates a new AgentHistoryHandler
func NewAgentHistoryHandler(store storage.Store, state *cache.State, engine *ranking.Engine, logger zerolog.Logger) *AgentHistoryHandler {
	return &AgentHistoryHandler{
		store:  store,
		state:  state,
		engine: engine,
		logger: logger.With().Str("component", "agent_history").Logger(),
	}
}

// GetDayTasks handles GET /api/agents/{agentId}/tasks?day=YYYY-MM-DD.
// Entries are returned newest first.
func (h *AgentHistoryHandler) GetDayTasks(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, ok := authorizeAgent(w, r, agentID); !ok {
		return
	}
	day, ok := dayParam(w, r, "day")
	if !ok {
		return
	}

	rec, err := h.store.GetDailyTasks(r.Context(), agentID, day)
	if err != nil {
		writeStoreError(w, h.logger, "tasks", err)
		return
	}
	if rec == nil {
		month, _ := types.MonthOfDay(day)
		rec = &types.DailyTaskRecord{
			AgentID:     agentID,
			DayID:       day,
			MonthID:     month,
			PerActivity: map[string]int{},
			Entries:     []types.TaskEntry{},
		}
	}

	sort.SliceStable(rec.Entries, func(i, j int) bool {
		return rec.Entries[i].CreatedAt.After(rec.Entries[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, rec)
}

// GetMonthTasks handles GET /api/agents/{agentId}/tasks/month?month=YYYY-MM
func (h *AgentHistoryHandler) GetMonthTasks(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, ok := authorizeAgent(w, r, agentID); !ok {
		return
	}
	month, ok := monthParam(w, r)
	if !ok {
		return
	}

	records, err := h.store.ListMonthTasks(r.Context(), agentID, month)
	if err != nil {
		writeStoreError(w, h.logger, "tasks", err)
		return
	}

	resp := MonthTasksResponse{MonthAggregate: scoring.AggregateMonth(records, month)}
	if agent, ok := h.agent(r, agentID); ok {
		resp.Target = scoring.ResolveTarget(h.state.Targets(), agent.Position)
	}
	if resp.Target > 0 {
		remaining := int(resp.Target) - resp.Total
		if remaining < 0 {
			remaining = 0
		}
		resp.Remaining = &remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPerformance handles GET /api/agents/{agentId}/performance?month=YYYY-MM.
// The row is scored the same way as on the leaderboard.
func (h *AgentHistoryHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, ok := authorizeAgent(w, r, agentID); !ok {
		return
	}
	month, ok := monthParam(w, r)
	if !ok {
		return
	}

	agent, ok := h.agent(r, agentID)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	snap := h.state.Snapshot()
	row, err := h.engine.ScoreAgent(r.Context(), agent, month, snap)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Str("month", month).Msg("failed to score agent")
		writeError(w, http.StatusInternalServerError, "failed to load performance data")
		return
	}
	writeJSON(w, http.StatusOK, PerformanceResponse{Row: row, Weights: snap.Weights})
}

// agent looks the profile up in the roster cache, falling back to the store
func (h *AgentHistoryHandler) agent(r *http.Request, agentID string) (types.Agent, bool) {
	if agent, ok := h.state.GetAgent(agentID); ok {
		return agent, true
	}
	agent, err := h.store.GetAgent(r.Context(), agentID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to load agent")
		}
		return types.Agent{}, false
	}
	return agent, true
}
