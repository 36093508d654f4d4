package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/auth"
	"github.com/dennisdiepolder/kpiboard/internal/importer"
	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/storage"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into v, writing a 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeStoreError maps a failed store write to a response: validation
// errors become 400 with the reason, conflicts 409, missing agents 404 and
// everything else a logged 500
func writeStoreError(w http.ResponseWriter, logger zerolog.Logger, kind string, err error) {
	switch {
	case scoring.IsValidation(err):
		metrics.Get().RecordRejectedWrite(kind)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error().Err(err).Str("kind", kind).Msg("store operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// caller returns the authenticated caller, writing a 401 when absent
func caller(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok || claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return claims, true
}

// authorizeAgent checks that the caller is the agent or an admin, writing a
// 403 otherwise
func authorizeAgent(w http.ResponseWriter, r *http.Request, agentID string) (*auth.Claims, bool) {
	claims, ok := caller(w, r)
	if !ok {
		return nil, false
	}
	if !claims.CanAccessAgent(agentID) {
		writeError(w, http.StatusForbidden, "not allowed to access this agent")
		return nil, false
	}
	return claims, true
}

// monthParam reads the month query parameter, defaulting to the current
// month; writes a 400 for malformed values
func monthParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	month := r.URL.Query().Get("month")
	if month == "" {
		return types.MonthIDOf(time.Now()), true
	}
	if !types.IsMonthID(month) {
		writeError(w, http.StatusBadRequest, scoring.ErrInvalidMonth.Error())
		return "", false
	}
	return month, true
}

// dayParam reads a YYYY-MM-DD query parameter, defaulting to today
func dayParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	day := r.URL.Query().Get(name)
	if day == "" {
		return today(), true
	}
	if !types.IsDayID(day) {
		writeError(w, http.StatusBadRequest, scoring.ErrInvalidDay.Error())
		return "", false
	}
	return day, true
}

func today() string {
	return types.DayIDOf(time.Now())
}

// updatedBy names the caller in audit fields
func updatedBy(claims *auth.Claims) string {
	if claims.Email != "" {
		return claims.Email
	}
	return claims.AgentID
}

// importResponse is returned by the task import endpoint
type importResponse struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

func newImportResponse(res importer.Result, succeeded int) importResponse {
	return importResponse{Succeeded: succeeded, Failed: res.Failed, Errors: res.Errors}
}
