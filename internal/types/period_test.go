package types

import (
	"testing"
	"time"
)

func TestPeriodIDs(t *testing.T) {
	ts := time.Date(2025, time.March, 7, 15, 4, 0, 0, time.UTC)

	if got := MonthIDOf(ts); got != "2025-03" {
		t.Errorf("expected 2025-03, got %s", got)
	}
	if got := DayIDOf(ts); got != "2025-03-07" {
		t.Errorf("expected 2025-03-07, got %s", got)
	}
}

func TestIsMonthID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2025-03", true},
		{"2025-12", true},
		{"2025-13", false},
		{"2025-3", false},
		{"2025-03-01", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := IsMonthID(tt.in); got != tt.want {
				t.Errorf("IsMonthID(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMonthOfDay(t *testing.T) {
	month, err := MonthOfDay("2025-02-28")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if month != "2025-02" {
		t.Errorf("expected 2025-02, got %s", month)
	}

	if _, err := MonthOfDay("2025-02-30"); err == nil {
		t.Error("expected error for invalid day")
	}
}

func TestAgentDefaults(t *testing.T) {
	a := Agent{AgentID: "a1"}
	if a.EffectiveRole() != RoleAgent {
		t.Errorf("expected default role agent, got %s", a.EffectiveRole())
	}
	if a.IsAdmin() {
		t.Error("agent without role should not be admin")
	}
	if a.DisplayClient() != UnassignedClient {
		t.Errorf("expected %s, got %s", UnassignedClient, a.DisplayClient())
	}
}
