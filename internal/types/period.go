package types

import (
	"fmt"
	"time"
)

const (
	monthLayout = "2006-01"
	dayLayout   = "2006-01-02"
)

// MonthIDOf formats t as a YYYY-MM month identifier
func MonthIDOf(t time.Time) string {
	return t.Format(monthLayout)
}

// DayIDOf formats t as a YYYY-MM-DD day identifier
func DayIDOf(t time.Time) string {
	return t.Format(dayLayout)
}

// IsMonthID reports whether s is a valid YYYY-MM month identifier
func IsMonthID(s string) bool {
	if len(s) != len(monthLayout) {
		return false
	}
	_, err := time.Parse(monthLayout, s)
	return err == nil
}

// IsDayID reports whether s is a valid YYYY-MM-DD day identifier
func IsDayID(s string) bool {
	if len(s) != len(dayLayout) {
		return false
	}
	_, err := time.Parse(dayLayout, s)
	return err == nil
}

// MonthOfDay returns the month identifier a day identifier belongs to
func MonthOfDay(dayID string) (string, error) {
	if !IsDayID(dayID) {
		return "", fmt.Errorf("invalid day id %q", dayID)
	}
	return dayID[:len(monthLayout)], nil
}
