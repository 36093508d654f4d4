package cache

import (
	"sync"
	"testing"

	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState()

	if s.Weights() != scoring.DefaultWeights {
		t.Errorf("expected default weights, got %+v", s.Weights())
	}
	targets := s.Targets()
	for _, pos := range scoring.CanonicalPositions {
		if v, ok := targets[pos]; !ok || v != 0 {
			t.Errorf("expected canonical position %q with 0, got %v (present=%v)", pos, v, ok)
		}
	}
}

func TestStateTargetsKeepCanonical(t *testing.T) {
	s := NewState()
	s.SetTargets(types.PositionTargetTable{"Clerk": 300})

	targets := s.Targets()
	if targets["Clerk"] != 300 {
		t.Errorf("expected Clerk 300, got %v", targets["Clerk"])
	}
	if _, ok := targets[scoring.CanonicalPositions[0]]; !ok {
		t.Error("canonical positions must survive a table replace")
	}

	targets["Clerk"] = 1
	if s.Targets()["Clerk"] != 300 {
		t.Error("Targets must return a copy")
	}
}

func TestStateSnapshot(t *testing.T) {
	s := NewState()
	s.SetRoster([]types.Agent{
		{AgentID: "b", Name: "Bob"},
		{AgentID: "a", Name: "Alice"},
		{AgentID: "root", Name: "Root", Role: types.RoleAdmin},
	})
	s.SetWeights(types.PerformanceWeights{Task: 40, Attendance: 40, Attitude: 20})

	snap := s.Snapshot()
	if len(snap.Roster) != 3 || snap.Roster[0].AgentID != "a" {
		t.Errorf("expected roster sorted by id, got %+v", snap.Roster)
	}
	if snap.Weights.Task != 40 {
		t.Errorf("expected snapshot weights, got %+v", snap.Weights)
	}

	s.UpsertAgent(types.Agent{AgentID: "c", Name: "Carol"})
	if len(snap.Roster) != 3 {
		t.Error("snapshot must not observe later writes")
	}

	agents, admins := s.Count()
	if agents != 3 || admins != 1 {
		t.Errorf("expected 3 agents and 1 admin, got %d and %d", agents, admins)
	}
	if a, ok := s.GetAgent("c"); !ok || a.Name != "Carol" {
		t.Errorf("expected Carol, got %+v", a)
	}
}

func TestStateConcurrentAccess(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SetWeights(scoring.DefaultWeights)
			s.SetTargets(types.PositionTargetTable{"Clerk": 10})
		}()
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
			_ = s.Roster()
		}()
	}
	wg.Wait()
}

func TestLeaderboardCache(t *testing.T) {
	c := NewLeaderboardCache()

	if _, ok := c.Get("2025-03"); ok {
		t.Fatal("expected empty cache")
	}

	c.Put(types.Leaderboard{MonthID: "2025-03", Rows: []types.RankingRow{{AgentID: "a", Rank: 1}}})
	c.Put(types.Leaderboard{MonthID: "2025-02"})
	c.Put(types.Leaderboard{MonthID: "2025-03", Rows: []types.RankingRow{{AgentID: "b", Rank: 1}}})

	lb, ok := c.Get("2025-03")
	if !ok || lb.Rows[0].AgentID != "b" {
		t.Errorf("expected latest leaderboard, got %+v", lb)
	}
	lb.Rows[0].AgentID = "mutated"
	if again, _ := c.Get("2025-03"); again.Rows[0].AgentID != "b" {
		t.Error("Get must return a copy of the rows")
	}

	if c.Size() != 2 {
		t.Errorf("expected 2 months, got %d", c.Size())
	}
	months := c.Months()
	if months[0] != "2025-02" || months[1] != "2025-03" {
		t.Errorf("expected sorted months, got %v", months)
	}
}
