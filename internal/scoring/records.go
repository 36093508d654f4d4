package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// ValidateKpi checks a KPI record before it is written
func ValidateKpi(rec types.MonthlyKpiRecord) error {
	if !types.IsMonthID(rec.MonthID) {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, rec.MonthID)
	}
	if rec.WorkingDays < 0 || rec.WorkedDays < 0 || rec.LateMinutes < 0 {
		return fmt.Errorf("%w: working days, worked days and late minutes", ErrNegativeValue)
	}
	if rec.WorkedDays > rec.WorkingDays {
		return fmt.Errorf("%w: %d > %d", ErrWorkedExceedsWorking, rec.WorkedDays, rec.WorkingDays)
	}
	if a := rec.AttitudePoints; math.IsNaN(a) || math.IsInf(a, 0) || a < 0 || a > 100 {
		return fmt.Errorf("%w: got %v", ErrAttitudeOutOfRange, a)
	}
	return nil
}

// CheckDayOpen rejects task writes to any day other than today. Past day
// records are closed.
func CheckDayOpen(dayID, todayID string) error {
	if dayID != todayID {
		return fmt.Errorf("%w: %s", ErrDayClosed, dayID)
	}
	return nil
}

// NormalizeEntry trims and validates a task submission, filling its derived keys
func NormalizeEntry(entry types.TaskEntry) (types.TaskEntry, error) {
	entry.Activity = strings.TrimSpace(entry.Activity)
	entry.Difficulty = strings.TrimSpace(entry.Difficulty)
	if entry.Activity == "" || entry.Count <= 0 || entry.Difficulty == "" {
		return entry, ErrInvalidEntry
	}
	entry.Key = ActivityKey(entry.Activity)
	entry.DifficultyKey = strings.ToLower(entry.Difficulty)
	return entry, nil
}

// ApplyEntry appends a normalized entry to a day record, keeping the total
// and per-activity breakdown consistent with the entries
func ApplyEntry(rec *types.DailyTaskRecord, entry types.TaskEntry) {
	if rec.PerActivity == nil {
		rec.PerActivity = make(map[string]int)
	}
	rec.Entries = append(rec.Entries, entry)
	rec.PerActivity[entry.Key] += entry.Count
	rec.Total += entry.Count
	rec.Revision++
}
