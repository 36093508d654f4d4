package alerts

import (
	"fmt"
	"math"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// LowAttendanceThreshold is the attendance score below which a row is flagged
const LowAttendanceThreshold = 50

// CheckRow evaluates alert rules for a single ranking row and returns the
// alerts that apply. The row itself is not modified.
func CheckRow(row types.RankingRow) []types.RowAlert {
	var out []types.RowAlert

	if row.Target <= 0 {
		out = append(out, types.RowAlert{
			Rule:     "no_target",
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("No task target set for %s", positionLabel(row.Position)),
		})
	}

	if !row.KpiRecorded {
		out = append(out, types.RowAlert{
			Rule:     "no_kpi",
			Severity: types.SeverityInfo,
			Message:  "No attendance or attitude recorded this month",
		})
	} else if row.AttendanceScore < LowAttendanceThreshold {
		out = append(out, types.RowAlert{
			Rule:     "low_attendance",
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("Attendance at %d%%", int(math.Round(row.AttendanceScore))),
		})
	}

	return out
}

func positionLabel(position string) string {
	if position == "" {
		return "unassigned position"
	}
	return position
}
