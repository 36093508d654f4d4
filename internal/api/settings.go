package api

import (
	"net/http"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/storage"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// weightsResponse is returned by the weights endpoints
type weightsResponse struct {
	Weights   types.PerformanceWeights `json:"weights"`
	UpdatedAt *time.Time               `json:"updatedAt,omitempty"`
	UpdatedBy string                   `json:"updatedBy,omitempty"`
}

// weightsRequest carries all three weights; absent fields are rejected
type weightsRequest struct {
	Task       *float64 `json:"task"`
	Attendance *float64 `json:"attendance"`
	Attitude   *float64 `json:"attitude"`
}

// SettingsHandler serves the scoring weights and position targets
type SettingsHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewSettingsHandler creates a new SettingsHandler
func NewSettingsHandler(store storage.Store, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  store,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// GetWeights handles GET /api/settings/weights
func (h *SettingsHandler) GetWeights(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.GetWeights(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, "weights", err)
		return
	}

	resp := weightsResponse{Weights: scoring.ResolveWeights(doc)}
	if doc != nil {
		resp.UpdatedBy = doc.UpdatedBy
		if !doc.UpdatedAt.IsZero() {
			at := doc.UpdatedAt
			resp.UpdatedAt = &at
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutWeights handles PUT /api/settings/weights (admin)
func (h *SettingsHandler) PutWeights(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req weightsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Task == nil || req.Attendance == nil || req.Attitude == nil {
		writeError(w, http.StatusBadRequest, "task, attendance and attitude are required")
		return
	}

	weights := types.PerformanceWeights{Task: *req.Task, Attendance: *req.Attendance, Attitude: *req.Attitude}
	if err := h.store.SaveWeights(r.Context(), weights, updatedBy(claims)); err != nil {
		writeStoreError(w, h.logger, "weights", err)
		return
	}

	h.logger.Info().
		Float64("task", weights.Task).
		Float64("attendance", weights.Attendance).
		Float64("attitude", weights.Attitude).
		Str("updated_by", updatedBy(claims)).
		Msg("weights updated")

	now := time.Now()
	writeJSON(w, http.StatusOK, weightsResponse{Weights: weights, UpdatedAt: &now, UpdatedBy: updatedBy(claims)})
}

// GetTargets handles GET /api/settings/targets
func (h *SettingsHandler) GetTargets(w http.ResponseWriter, r *http.Request) {
	table, err := h.store.GetPositionTargets(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, "targets", err)
		return
	}
	writeJSON(w, http.StatusOK, scoring.WithCanonicalPositions(table))
}

// PutTargets handles PUT /api/settings/targets (admin). Positions absent
// from the body keep their stored targets.
func (h *SettingsHandler) PutTargets(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var table types.PositionTargetTable
	if !decodeJSON(w, r, &table) {
		return
	}
	if len(table) == 0 {
		writeError(w, http.StatusBadRequest, "no targets given")
		return
	}

	merged, err := h.store.MergePositionTargets(r.Context(), table, updatedBy(claims))
	if err != nil {
		writeStoreError(w, h.logger, "targets", err)
		return
	}

	h.logger.Info().Int("positions", len(table)).Str("updated_by", updatedBy(claims)).Msg("targets updated")
	writeJSON(w, http.StatusOK, scoring.WithCanonicalPositions(merged))
}
