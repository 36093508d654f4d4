package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/auth"
	"github.com/dennisdiepolder/kpiboard/internal/cache"
	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/rs/zerolog"
)

// Resyncer reloads the cached roster and settings from the store
type Resyncer interface {
	Resync(ctx context.Context) error
}

// WatchLister reports the months kept up to date in the background
type WatchLister interface {
	Watched() []string
}

// ClientCounter reports connected dashboard clients
type ClientCounter interface {
	ClientCount() int
}

// AdminHandler serves operational admin endpoints
type AdminHandler struct {
	resyncer Resyncer
	state    *cache.State
	boards   *cache.LeaderboardCache
	watched  WatchLister
	clients  ClientCounter
	logger   zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(resyncer Resyncer, state *cache.State, boards *cache.LeaderboardCache, watched WatchLister, clients ClientCounter, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		resyncer: resyncer,
		state:    state,
		boards:   boards,
		watched:  watched,
		clients:  clients,
		logger:   logger.With().Str("component", "admin").Logger(),
	}
}

// RequireAdmin middleware: only the admin role is allowed
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !claims.IsAdmin() {
			metrics.Get().RecordRejectedWrite("admin")
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Resync handles POST /api/admin/resync: reloads roster, weights and targets
// and recomputes every watched month
func (h *AdminHandler) Resync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.resyncer.Resync(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("manual resync failed")
		writeError(w, http.StatusInternalServerError, "resync failed")
		return
	}

	agents, admins := h.state.Count()
	h.logger.Info().
		Int("agents", agents).
		Dur("duration", time.Since(start)).
		Msg("manual resync completed")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "resync completed",
		"agents":  agents,
		"admins":  admins,
	})
}

// Status handles GET /api/admin/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	agents, admins := h.state.Count()
	runs, superseded, errs := metrics.Get().Snapshot()

	clients := 0
	if h.clients != nil {
		clients = h.clients.ClientCount()
	}
	watched := []string{}
	if h.watched != nil {
		watched = h.watched.Watched()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":        agents,
		"admins":        admins,
		"weights":       h.state.Weights(),
		"watchedMonths": watched,
		"cachedMonths":  h.boards.Months(),
		"clients":       clients,
		"recompute": map[string]int64{
			"runs":       runs,
			"superseded": superseded,
			"errors":     errs,
		},
	})
}
