package scoring

import (
	"math"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

const (
	// MinutesPerWorkday is the worked-minutes capacity of one day (8h)
	MinutesPerWorkday = 480

	// attendance regularity vs punctuality split of the attendance score
	daysShare        = 0.90
	punctualityShare = 0.10
)

// finite returns v, or 0 when v is NaN or infinite
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Clamp limits a percentage to [0,100]. Non-finite input yields 0.
func Clamp(v float64) float64 {
	v = finite(v)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// TaskScore converts a month's task total into a percentage of the target.
// A zero or missing target cannot be evaluated and scores 0.
func TaskScore(totalTasks, target float64) float64 {
	totalTasks = finite(totalTasks)
	target = finite(target)
	if target <= 0 {
		return 0
	}
	return Clamp(totalTasks / target * 100)
}

// AttendanceScore combines worked-day regularity (90%) and punctuality (10%).
// Lateness is measured against the worked-minutes capacity of the worked days.
func AttendanceScore(workingDays, workedDays, lateMinutes float64) float64 {
	workingDays = finite(workingDays)
	workedDays = finite(workedDays)
	lateMinutes = math.Max(0, finite(lateMinutes))

	if workingDays <= 0 || workedDays <= 0 {
		return 0
	}

	daysScore := Clamp(workedDays / workingDays * 100)
	lateScore := Clamp(100 - lateMinutes/(workedDays*MinutesPerWorkday)*100)
	return Clamp(daysScore*daysShare + lateScore*punctualityShare)
}

// AttitudeScore is the administrator's rating, clamped
func AttitudeScore(rating float64) float64 {
	return Clamp(rating)
}

// AttendanceFromKpi scores a KPI record's attendance. Records with working
// days use the day/lateness formula; otherwise a legacy precomputed value is
// used when present.
func AttendanceFromKpi(rec *types.MonthlyKpiRecord) float64 {
	if rec == nil {
		return 0
	}
	if rec.WorkingDays > 0 {
		return AttendanceScore(float64(rec.WorkingDays), float64(rec.WorkedDays), float64(rec.LateMinutes))
	}
	if rec.AttendancePoints != nil {
		return Clamp(*rec.AttendancePoints)
	}
	return 0
}

// AttitudeFromKpi scores a KPI record's attitude rating
func AttitudeFromKpi(rec *types.MonthlyKpiRecord) float64 {
	if rec == nil {
		return 0
	}
	return AttitudeScore(rec.AttitudePoints)
}
