package scoring

import (
	"math"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// Overall combines the three category scores with the weights. Inputs in
// [0,100] with weights summing to 100 already land in [0,100]; the clamp
// covers weights read mid-update.
func Overall(taskScore, attendanceScore, attitudeScore float64, w types.PerformanceWeights) float64 {
	return Clamp(
		finite(taskScore)*finite(w.Task)/100 +
			finite(attendanceScore)*finite(w.Attendance)/100 +
			finite(attitudeScore)*finite(w.Attitude)/100,
	)
}

// BandOf buckets an overall score by its rounded value
func BandOf(overall float64) types.Band {
	pct := math.Round(Clamp(overall))
	switch {
	case pct >= 85:
		return types.BandGreat
	case pct >= 70:
		return types.BandGood
	case pct >= 50:
		return types.BandOK
	default:
		return types.BandBad
	}
}
