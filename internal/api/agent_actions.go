package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dennisdiepolder/kpiboard/internal/importer"
	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/storage"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// taskRequest is the body of a single task submission. Entries always land
// on today's record.
type taskRequest struct {
	Activity   string `json:"activity"`
	Count      int    `json:"count"`
	Difficulty string `json:"difficulty"`
}

// AgentActionsHandler provides the task submission endpoints
type AgentActionsHandler struct {
	store          storage.Store
	maxImportBytes int64
	logger         zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(store storage.Store, maxImportBytes int64, logger zerolog.Logger) *AgentActionsHandler {
	if maxImportBytes <= 0 {
		maxImportBytes = 5 << 20
	}
	return &AgentActionsHandler{
		store:          store,
		maxImportBytes: maxImportBytes,
		logger:         logger.With().Str("component", "agent_actions").Logger(),
	}
}

// SubmitTask handles POST /api/agents/{agentId}/tasks
func (h *AgentActionsHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, ok := authorizeAgent(w, r, agentID); !ok {
		return
	}

	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	day := today()

	rec, err := h.store.AppendTaskEntry(r.Context(), agentID, day, types.TaskEntry{
		Activity:   req.Activity,
		Count:      req.Count,
		Difficulty: req.Difficulty,
	})
	if err != nil {
		writeStoreError(w, h.logger, "tasks", err)
		return
	}
	metrics.Get().RecordTaskEntries(1)

	h.logger.Debug().
		Str("agent_id", agentID).
		Str("date", rec.DayID).
		Int("count", req.Count).
		Int("day_total", rec.Total).
		Msg("task entry saved")

	writeJSON(w, http.StatusCreated, rec)
}

// ImportTasks handles POST /api/agents/{agentId}/tasks/import. The body is
// either tab-separated text or a multipart upload in field "file"; .xlsx
// uploads are read as spreadsheets. Bad rows are counted, not fatal. Only
// admins may import into a day other than today.
func (h *AgentActionsHandler) ImportTasks(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	claims, ok := authorizeAgent(w, r, agentID)
	if !ok {
		return
	}
	day, ok := dayParam(w, r, "day")
	if !ok {
		return
	}
	if !claims.IsAdmin() {
		if err := scoring.CheckDayOpen(day, today()); err != nil {
			writeStoreError(w, h.logger, "tasks", err)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxImportBytes)
	res, err := h.parseImport(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "import too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	succeeded := 0
	for _, row := range res.Rows {
		if _, err := h.store.AppendTaskEntry(r.Context(), agentID, day, row.Entry()); err != nil {
			if !scoring.IsValidation(err) {
				h.logger.Warn().Err(err).Str("agent_id", agentID).Int("line", row.Line).Msg("failed to save imported row")
			}
			res.Reject(row.Line, err)
			continue
		}
		succeeded++
	}
	metrics.Get().RecordTaskEntries(succeeded)

	h.logger.Info().
		Str("agent_id", agentID).
		Str("date", day).
		Int("succeeded", succeeded).
		Int("failed", res.Failed).
		Msg("tasks imported")

	writeJSON(w, http.StatusOK, newImportResponse(res, succeeded))
}

func (h *AgentActionsHandler) parseImport(r *http.Request) (importer.Result, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return importer.ParseTSV(r.Body)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return importer.Result{}, err
		}
		return importer.Result{}, errors.New("multipart field \"file\" is required")
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		return importer.ParseXLSX(file)
	}
	return importer.ParseTSV(file)
}
