package api

import (
	"fmt"
	"net/http"

	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/storage"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// kpiRequest is the body of a monthly KPI write
type kpiRequest struct {
	WorkingDays    int     `json:"workingDays"`
	WorkedDays     int     `json:"workedDays"`
	LateMinutes    int     `json:"lateMinutes"`
	AttitudePoints float64 `json:"attitudePoints"`
}

// KpiHandler serves the admin-entered monthly KPI inputs
type KpiHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewKpiHandler creates a new KpiHandler
func NewKpiHandler(store storage.Store, logger zerolog.Logger) *KpiHandler {
	return &KpiHandler{
		store:  store,
		logger: logger.With().Str("component", "kpi").Logger(),
	}
}

func monthURLParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	month := chi.URLParam(r, "month")
	if !types.IsMonthID(month) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%v: %q", scoring.ErrInvalidMonth, month))
		return "", false
	}
	return month, true
}

// GetKpi handles GET /api/agents/{agentId}/kpi/{month}
func (h *KpiHandler) GetKpi(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, ok := authorizeAgent(w, r, agentID); !ok {
		return
	}
	month, ok := monthURLParam(w, r)
	if !ok {
		return
	}

	rec, err := h.store.GetMonthlyKpi(r.Context(), agentID, month)
	if err != nil {
		writeStoreError(w, h.logger, "kpi", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recorded": rec != nil,
		"kpi":      rec,
	})
}

// PutKpi handles PUT /api/agents/{agentId}/kpi/{month} (admin)
func (h *KpiHandler) PutKpi(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	agentID := chi.URLParam(r, "agentId")
	month, ok := monthURLParam(w, r)
	if !ok {
		return
	}

	var req kpiRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	saved, err := h.store.SaveMonthlyKpi(r.Context(), types.MonthlyKpiRecord{
		AgentID:        agentID,
		MonthID:        month,
		WorkingDays:    req.WorkingDays,
		WorkedDays:     req.WorkedDays,
		LateMinutes:    req.LateMinutes,
		AttitudePoints: req.AttitudePoints,
		UpdatedBy:      updatedBy(claims),
	})
	if err != nil {
		writeStoreError(w, h.logger, "kpi", err)
		return
	}

	h.logger.Info().
		Str("agent_id", agentID).
		Str("month", month).
		Str("updated_by", saved.UpdatedBy).
		Msg("monthly kpi saved")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recorded": true,
		"kpi":      saved,
	})
}
