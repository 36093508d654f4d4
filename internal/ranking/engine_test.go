package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

const testMonth = "2025-03"

// fakeSource serves canned records and can fail for selected agents
type fakeSource struct {
	mu    sync.Mutex
	tasks map[string][]types.DailyTaskRecord
	kpis  map[string]*types.MonthlyKpiRecord
	fail  map[string]error
	calls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tasks: make(map[string][]types.DailyTaskRecord),
		kpis:  make(map[string]*types.MonthlyKpiRecord),
		fail:  make(map[string]error),
	}
}

func (f *fakeSource) addTasks(agentID string, day string, total int) {
	f.tasks[agentID] = append(f.tasks[agentID], types.DailyTaskRecord{
		AgentID: agentID, DayID: day, MonthID: day[:7], Total: total,
	})
}

func (f *fakeSource) ListMonthTasks(ctx context.Context, agentID, monthID string) ([]types.DailyTaskRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := f.fail[agentID]; err != nil {
		return nil, err
	}
	return f.tasks[agentID], nil
}

func (f *fakeSource) GetMonthlyKpi(ctx context.Context, agentID, monthID string) (*types.MonthlyKpiRecord, error) {
	return f.kpis[agentID], nil
}

func newTestEngine(src DataSource) *Engine {
	return NewEngine(src, Options{Concurrency: 4}, zerolog.Nop())
}

func TestRecomputeLeaderboardScenario(t *testing.T) {
	src := newFakeSource()
	// 68.27 overall: 250 of 500 tasks, 18/20 days with 90 late minutes, attitude 80
	src.addTasks("a1", "2025-03-03", 100)
	src.addTasks("a1", "2025-03-04", 150)
	src.kpis["a1"] = &types.MonthlyKpiRecord{AgentID: "a1", MonthID: testMonth, WorkingDays: 20, WorkedDays: 18, LateMinutes: 90, AttitudePoints: 80}
	// 94 overall: full target, perfect attendance, attitude 70
	src.addTasks("a2", "2025-03-03", 500)
	src.kpis["a2"] = &types.MonthlyKpiRecord{AgentID: "a2", MonthID: testMonth, WorkingDays: 20, WorkedDays: 20, AttitudePoints: 70}

	snap := Snapshot{
		Roster: []types.Agent{
			{AgentID: "a1", Name: "Alice", Position: "Data Entry"},
			{AgentID: "a2", Name: "Bob", Position: "Data Entry"},
			{AgentID: "admin", Name: "Boss", Role: types.RoleAdmin, Position: "Data Entry"},
		},
		Targets: types.PositionTargetTable{"Data Entry": 500},
		Weights: scoring.DefaultWeights,
	}

	lb, err := newTestEngine(src).RecomputeLeaderboard(context.Background(), testMonth, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(lb.Rows) != 2 {
		t.Fatalf("expected 2 rows (admin excluded), got %d", len(lb.Rows))
	}
	if lb.Rows[0].AgentID != "a2" || lb.Rows[1].AgentID != "a1" {
		t.Fatalf("unexpected order: %s, %s", lb.Rows[0].AgentID, lb.Rows[1].AgentID)
	}

	alice := lb.Rows[1]
	if alice.Rank != 2 || alice.TotalTasks != 250 || alice.TaskScore != 50 {
		t.Errorf("unexpected row: %+v", alice)
	}
	if math.Abs(alice.Overall-68.27) > 0.01 {
		t.Errorf("expected overall ~68.27, got %v", alice.Overall)
	}
	if alice.Band != types.BandBad && alice.Band != types.BandOK {
		t.Errorf("unexpected band %s", alice.Band)
	}
	if !alice.KpiRecorded || len(alice.Alerts) != 0 {
		t.Errorf("expected recorded kpi without alerts, got %+v", alice)
	}
	if lb.Weights != scoring.DefaultWeights {
		t.Errorf("expected default weights on leaderboard, got %+v", lb.Weights)
	}
}

func TestSortRowsScenario(t *testing.T) {
	rows := []types.RankingRow{
		{AgentID: "low", Name: "Zed", Overall: 68.27},
		{AgentID: "high", Name: "Amy", Overall: 90.90},
	}
	SortRows(rows)
	if rows[0].AgentID != "high" || rows[1].AgentID != "low" {
		t.Errorf("expected descending order, got %s then %s", rows[0].AgentID, rows[1].AgentID)
	}
}

func TestSortRowsTieBreak(t *testing.T) {
	rows := []types.RankingRow{
		{AgentID: "c", Name: "carol", Overall: 70},
		{AgentID: "b2", Name: "Bob", Overall: 70},
		{AgentID: "a", Name: "alice", Overall: 70},
		{AgentID: "b1", Name: "bob", Overall: 70},
		{AgentID: "z", Name: "Zoe", Overall: 95},
	}
	SortRows(rows)

	var got []string
	for _, r := range rows {
		got = append(got, r.AgentID)
	}
	want := []string{"z", "a", "b1", "b2", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func fifteenAgents() (*fakeSource, Snapshot) {
	src := newFakeSource()
	snap := Snapshot{
		Targets: types.PositionTargetTable{"Clerk": 100},
		Weights: scoring.DefaultWeights,
	}
	for i := 1; i <= 15; i++ {
		id := fmt.Sprintf("agent-%02d", i)
		snap.Roster = append(snap.Roster, types.Agent{AgentID: id, Name: fmt.Sprintf("Agent %02d", i), Position: "Clerk"})
		src.addTasks(id, "2025-03-10", i*5)
	}
	return src, snap
}

func TestRecomputeLeaderboardTruncates(t *testing.T) {
	src, snap := fifteenAgents()

	lb, err := newTestEngine(src).RecomputeLeaderboard(context.Background(), testMonth, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(lb.Rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(lb.Rows))
	}
	if lb.Ranked != 15 {
		t.Errorf("expected 15 ranked agents, got %d", lb.Ranked)
	}
	for i, row := range lb.Rows {
		want := fmt.Sprintf("agent-%02d", 15-i)
		if row.AgentID != want {
			t.Errorf("row %d: expected %s, got %s", i, want, row.AgentID)
		}
		if row.Rank != i+1 {
			t.Errorf("row %d: expected rank %d, got %d", i, i+1, row.Rank)
		}
	}
}

func TestRecomputeLeaderboardDeterministic(t *testing.T) {
	src, snap := fifteenAgents()
	// equal scores exercise the tie-break
	src.tasks["agent-14"][0].Total = 75
	engine := newTestEngine(src)

	first, err := engine.RecomputeLeaderboard(context.Background(), testMonth, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.RecomputeLeaderboard(context.Background(), testMonth, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first.ComputedAt = second.ComputedAt
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical leaderboards\nfirst:  %+v\nsecond: %+v", first.Rows, second.Rows)
	}
}

func TestRecomputeLeaderboardIsolatesFailures(t *testing.T) {
	src, snap := fifteenAgents()
	src.fail["agent-15"] = errors.New("connection reset")

	lb, err := newTestEngine(src).RecomputeLeaderboard(context.Background(), testMonth, snap)
	if err != nil {
		t.Fatalf("expected pass to survive an agent failure, got %v", err)
	}

	if len(lb.Failures) != 1 || lb.Failures[0].AgentID != "agent-15" {
		t.Fatalf("expected agent-15 in failures, got %+v", lb.Failures)
	}
	for _, row := range lb.Rows {
		if row.AgentID == "agent-15" {
			t.Fatal("failed agent must be omitted from rows")
		}
	}
	if lb.Rows[0].AgentID != "agent-14" {
		t.Errorf("expected agent-14 on top, got %s", lb.Rows[0].AgentID)
	}
}

func TestRecomputeLeaderboardInvalidMonth(t *testing.T) {
	src, snap := fifteenAgents()
	_, err := newTestEngine(src).RecomputeLeaderboard(context.Background(), "2025-13", snap)
	if !errors.Is(err, scoring.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
	if src.calls != 0 {
		t.Errorf("expected no fetches for an invalid month, got %d", src.calls)
	}
}

func TestRecomputeLeaderboardCancelled(t *testing.T) {
	src, snap := fifteenAgents()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestEngine(src).RecomputeLeaderboard(ctx, testMonth, snap); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRecomputeLeaderboardEmptyRoster(t *testing.T) {
	lb, err := newTestEngine(newFakeSource()).RecomputeLeaderboard(context.Background(), testMonth, Snapshot{Weights: scoring.DefaultWeights})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lb.Rows == nil || len(lb.Rows) != 0 {
		t.Errorf("expected empty non-nil rows, got %#v", lb.Rows)
	}
}

func TestScoreAgentAlerts(t *testing.T) {
	src := newFakeSource()
	src.addTasks("a1", "2025-03-03", 40)

	row, err := newTestEngine(src).ScoreAgent(context.Background(),
		types.Agent{AgentID: "a1", Name: "Alice", Position: "New Role"}, testMonth,
		Snapshot{Targets: types.PositionTargetTable{}, Weights: scoring.DefaultWeights})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if row.TaskScore != 0 || row.Target != 0 {
		t.Errorf("expected zero task score without target, got %+v", row)
	}
	if row.Client != types.UnassignedClient {
		t.Errorf("expected unassigned client, got %q", row.Client)
	}

	rules := map[string]bool{}
	for _, a := range row.Alerts {
		rules[a.Rule] = true
	}
	if !rules["no_target"] || !rules["no_kpi"] {
		t.Errorf("expected no_target and no_kpi alerts, got %+v", row.Alerts)
	}
}

func TestWeightChangeOnlyMovesOverall(t *testing.T) {
	src := newFakeSource()
	src.addTasks("a1", "2025-03-03", 250)
	src.kpis["a1"] = &types.MonthlyKpiRecord{WorkingDays: 20, WorkedDays: 18, LateMinutes: 90, AttitudePoints: 80}
	agent := types.Agent{AgentID: "a1", Name: "Alice", Position: "Clerk"}
	engine := newTestEngine(src)

	before, _ := engine.ScoreAgent(context.Background(), agent, testMonth, Snapshot{
		Targets: types.PositionTargetTable{"Clerk": 500}, Weights: scoring.DefaultWeights,
	})
	after, _ := engine.ScoreAgent(context.Background(), agent, testMonth, Snapshot{
		Targets: types.PositionTargetTable{"Clerk": 500}, Weights: types.PerformanceWeights{Task: 20, Attendance: 30, Attitude: 50},
	})

	if before.TaskScore != after.TaskScore || before.AttendanceScore != after.AttendanceScore || before.AttitudeScore != after.AttitudeScore {
		t.Error("per-metric scores must not depend on weights")
	}
	if before.Overall == after.Overall {
		t.Error("expected overall to change with the weights")
	}
}

// barrierSource blocks every ListMonthTasks call until want calls are in
// flight at once
type barrierSource struct {
	want    int
	release chan struct{}

	mu       sync.Mutex
	inFlight int
	peak     int
}

func newBarrierSource(want int) *barrierSource {
	return &barrierSource{want: want, release: make(chan struct{})}
}

func (b *barrierSource) ListMonthTasks(ctx context.Context, agentID, monthID string) ([]types.DailyTaskRecord, error) {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.peak {
		b.peak = b.inFlight
	}
	if b.inFlight == b.want {
		close(b.release)
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *barrierSource) GetMonthlyKpi(ctx context.Context, agentID, monthID string) (*types.MonthlyKpiRecord, error) {
	return nil, nil
}

func TestRecomputeLeaderboardFetchesConcurrently(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
		agents      int
	}{
		{"one slot per agent", 4, 4},
		{"more agents than slots", 3, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newBarrierSource(tt.concurrency)
			engine := NewEngine(src, Options{Concurrency: tt.concurrency}, zerolog.Nop())

			snap := Snapshot{Weights: scoring.DefaultWeights}
			for i := 0; i < tt.agents; i++ {
				snap.Roster = append(snap.Roster, types.Agent{AgentID: fmt.Sprintf("a%d", i), Name: fmt.Sprintf("Agent %d", i)})
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			type result struct {
				lb  types.Leaderboard
				err error
			}
			done := make(chan result, 1)
			go func() {
				lb, err := engine.RecomputeLeaderboard(ctx, testMonth, snap)
				done <- result{lb, err}
			}()

			select {
			case res := <-done:
				if res.err != nil {
					t.Fatalf("unexpected error: %v", res.err)
				}
				if len(res.lb.Failures) != 0 {
					t.Fatalf("fetches never overlapped: %d agents failed", len(res.lb.Failures))
				}
				if res.lb.Ranked != tt.agents {
					t.Errorf("expected %d ranked agents, got %d", tt.agents, res.lb.Ranked)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("pass did not complete: fewer than %d fetches ran at once", tt.concurrency)
			}

			src.mu.Lock()
			peak := src.peak
			src.mu.Unlock()
			if peak > tt.concurrency {
				t.Errorf("expected at most %d fetches in flight, got %d", tt.concurrency, peak)
			}
		})
	}
}
