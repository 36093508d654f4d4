package api

import (
	"context"
	"net/http"

	"github.com/dennisdiepolder/kpiboard/internal/cache"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// Recomputer runs leaderboard passes on demand
type Recomputer interface {
	Track(monthID string) bool
	Recompute(ctx context.Context, monthID string) (types.Leaderboard, error)
}

// LeaderboardHandler serves the monthly top-performer board
type LeaderboardHandler struct {
	boards     *cache.LeaderboardCache
	recomputer Recomputer
	logger     zerolog.Logger
}

// NewLeaderboardHandler creates a new LeaderboardHandler
func NewLeaderboardHandler(boards *cache.LeaderboardCache, recomputer Recomputer, logger zerolog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		boards:     boards,
		recomputer: recomputer,
		logger:     logger.With().Str("component", "leaderboard").Logger(),
	}
}

// GetLeaderboard handles GET /api/leaderboard?month=YYYY-MM (admin). The
// cached board is served when present; refresh=true forces a new pass.
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	h.recomputer.Track(month)

	if r.URL.Query().Get("refresh") != "true" {
		if lb, ok := h.boards.Get(month); ok {
			writeJSON(w, http.StatusOK, lb)
			return
		}
	}

	lb, err := h.recomputer.Recompute(r.Context(), month)
	if err != nil {
		h.logger.Error().Err(err).Str("month", month).Msg("failed to compute leaderboard")
		writeError(w, http.StatusInternalServerError, "failed to compute leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, lb)
}
