package scoring

import (
	"strings"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// MonthAggregate is an agent's task output for one month
type MonthAggregate struct {
	MonthID   string         `json:"month"`
	Total     int            `json:"total"`
	DayTotals map[string]int `json:"dayTotals"`
}

// AggregateMonth sums the day totals of the records that belong to monthID.
// Records of other months are skipped and negative totals count as zero.
func AggregateMonth(records []types.DailyTaskRecord, monthID string) MonthAggregate {
	agg := MonthAggregate{
		MonthID:   monthID,
		DayTotals: make(map[string]int, len(records)),
	}

	for _, rec := range records {
		month := rec.MonthID
		if month == "" && len(rec.DayID) >= len(monthID) {
			month = rec.DayID[:len(monthID)]
		}
		if month != monthID {
			continue
		}

		total := rec.Total
		if total < 0 {
			total = 0
		}
		day := rec.DayID
		if day == "" {
			day = monthID
		}
		agg.DayTotals[day] += total
		agg.Total += total
	}

	return agg
}

// ActivityKey normalizes an activity name into a per-activity map key
func ActivityKey(activity string) string {
	key := strings.ToLower(strings.TrimSpace(activity))
	key = strings.Map(func(r rune) rune {
		switch r {
		case '.', '#', '$', '/', '[', ']':
			return '_'
		}
		return r
	}, key)
	if runes := []rune(key); len(runes) > 60 {
		key = string(runes[:60])
	}
	return key
}
