package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

func TestMemoryStoreWeightsRejectionKeepsPrior(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	prior := types.PerformanceWeights{Task: 40, Attendance: 40, Attitude: 20}
	if err := s.SaveWeights(ctx, prior, "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := s.SaveWeights(ctx, types.PerformanceWeights{Task: 60, Attendance: 30, Attitude: 20}, "admin")
	if !errors.Is(err, scoring.ErrWeightsSum) {
		t.Fatalf("expected ErrWeightsSum, got %v", err)
	}

	doc, err := s.GetWeights(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := scoring.ResolveWeights(doc); got != prior {
		t.Errorf("expected prior weights %+v, got %+v", prior, got)
	}
}

func TestMemoryStoreWeightsAbsent(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	doc, err := s.GetWeights(context.Background())
	if err != nil || doc != nil {
		t.Fatalf("expected no document, got %+v (%v)", doc, err)
	}
}

func TestMemoryStoreMergePositionTargets(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	if _, err := s.MergePositionTargets(ctx, types.PositionTargetTable{"Clerk": 300, "Estimator": 200}, "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := s.MergePositionTargets(ctx, types.PositionTargetTable{" Clerk ": 350}, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out["Clerk"] != 350 || out["Estimator"] != 200 {
		t.Errorf("expected merged table, got %v", out)
	}

	if _, err := s.MergePositionTargets(ctx, types.PositionTargetTable{"Clerk": -5}, "admin"); !errors.Is(err, scoring.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	table, _ := s.GetPositionTargets(ctx)
	if table["Clerk"] != 350 {
		t.Errorf("rejected write must not change targets, got %v", table["Clerk"])
	}
}

func TestMemoryStoreKpiMerge(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()
	legacy := 64.0

	if _, err := s.SaveMonthlyKpi(ctx, types.MonthlyKpiRecord{AgentID: "a1", MonthID: "2025-03", AttendancePoints: &legacy}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	saved, err := s.SaveMonthlyKpi(ctx, types.MonthlyKpiRecord{AgentID: "a1", MonthID: "2025-03", WorkingDays: 20, WorkedDays: 18, LateMinutes: 90, AttitudePoints: 80})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.AttendancePoints == nil || *saved.AttendancePoints != legacy {
		t.Errorf("expected legacy attendance to survive the merge, got %v", saved.AttendancePoints)
	}

	_, err = s.SaveMonthlyKpi(ctx, types.MonthlyKpiRecord{AgentID: "a1", MonthID: "2025-03", WorkingDays: 10, WorkedDays: 12})
	if !errors.Is(err, scoring.ErrWorkedExceedsWorking) {
		t.Fatalf("expected ErrWorkedExceedsWorking, got %v", err)
	}

	rec, _ := s.GetMonthlyKpi(ctx, "a1", "2025-03")
	if rec == nil || rec.WorkingDays != 20 {
		t.Errorf("rejected write must keep the stored record, got %+v", rec)
	}

	if rec, _ := s.GetMonthlyKpi(ctx, "a1", "2025-04"); rec != nil {
		t.Errorf("expected no record for another month, got %+v", rec)
	}
}

func TestMemoryStoreAppendTaskEntry(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	for _, e := range []types.TaskEntry{
		{Activity: "Quotes", Count: 3, Difficulty: "Easy"},
		{Activity: "quotes ", Count: 2, Difficulty: "Hard"},
		{Activity: "Invoices", Count: 7, Difficulty: "Easy"},
	} {
		if _, err := s.AppendTaskEntry(ctx, "a1", "2025-03-03", e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := s.AppendTaskEntry(ctx, "a1", "2025-04-01", types.TaskEntry{Activity: "Quotes", Count: 1, Difficulty: "Easy"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := s.GetDailyTasks(ctx, "a1", "2025-03-03")
	if err != nil || rec == nil {
		t.Fatalf("expected day record, got %v (%v)", rec, err)
	}
	if rec.Total != 12 || rec.PerActivity["quotes"] != 5 || rec.PerActivity["invoices"] != 7 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.MonthID != "2025-03" || len(rec.Entries) != 3 || rec.Entries[0].ID == "" {
		t.Errorf("unexpected record metadata: %+v", rec)
	}

	month, _ := s.ListMonthTasks(ctx, "a1", "2025-03")
	if len(month) != 1 {
		t.Errorf("expected 1 day in March, got %d", len(month))
	}

	_, err = s.AppendTaskEntry(ctx, "a1", "2025-03-32", types.TaskEntry{Activity: "Quotes", Count: 1, Difficulty: "Easy"})
	if !errors.Is(err, scoring.ErrInvalidDay) {
		t.Errorf("expected ErrInvalidDay, got %v", err)
	}
	_, err = s.AppendTaskEntry(ctx, "a1", "2025-03-03", types.TaskEntry{Activity: "Quotes", Count: -1, Difficulty: "Easy"})
	if !errors.Is(err, scoring.ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AppendTaskEntry(ctx, "a1", "2025-03-03", types.TaskEntry{Activity: "Quotes", Count: 2, Difficulty: "Easy"})
		}()
	}
	wg.Wait()

	rec, _ := s.GetDailyTasks(ctx, "a1", "2025-03-03")
	sum := 0
	for _, e := range rec.Entries {
		sum += e.Count
	}
	if rec.Total != 100 || sum != rec.Total || len(rec.Entries) != 50 {
		t.Errorf("expected total 100 over 50 entries, got total=%d sum=%d entries=%d", rec.Total, sum, len(rec.Entries))
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()
	s.AppendTaskEntry(ctx, "a1", "2025-03-03", types.TaskEntry{Activity: "Quotes", Count: 2, Difficulty: "Easy"})

	rec, _ := s.GetDailyTasks(ctx, "a1", "2025-03-03")
	rec.PerActivity["quotes"] = 999
	rec.Entries[0].Count = 999

	again, _ := s.GetDailyTasks(ctx, "a1", "2025-03-03")
	if again.PerActivity["quotes"] != 2 || again.Entries[0].Count != 2 {
		t.Error("caller mutation leaked into the store")
	}
}

func TestMemoryStoreAgents(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	if _, err := s.GetAgent(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first, err := s.UpsertAgent(ctx, types.Agent{AgentID: "a1", Name: " Alice ", Position: "Clerk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Client != types.UnassignedClient || first.Role != types.RoleAgent || first.Name != "Alice" {
		t.Errorf("expected defaults applied, got %+v", first)
	}

	time.Sleep(2 * time.Millisecond)
	second, err := s.UpsertAgent(ctx, types.Agent{AgentID: "a1", Name: "Alice", Client: "Acme", Position: "Clerk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("expected CreatedAt kept and UpdatedAt advanced, got %+v", second)
	}

	if _, err := s.UpsertAgent(ctx, types.Agent{AgentID: "  "}); err == nil {
		t.Error("expected error for empty agent id")
	}

	agents, _ := s.ListAgents(ctx)
	if len(agents) != 1 || agents[0].Client != "Acme" {
		t.Errorf("unexpected roster: %+v", agents)
	}
}

func TestMemoryStoreSubscribe(t *testing.T) {
	s := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	events, cancel := s.Subscribe()
	defer cancel()

	s.SaveMonthlyKpi(ctx, types.MonthlyKpiRecord{AgentID: "a1", MonthID: "2025-03", WorkingDays: 20, WorkedDays: 20})

	select {
	case ev := <-events:
		if ev.Kind != types.ChangeKpi || ev.AgentID != "a1" || ev.MonthID != "2025-03" {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.At.IsZero() {
			t.Error("expected event timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change event")
	}

	// rejected writes publish nothing
	s.SaveWeights(ctx, types.PerformanceWeights{Task: 90}, "admin")
	select {
	case ev := <-events:
		t.Errorf("unexpected event for rejected write: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if _, ok := <-events; ok {
		t.Error("expected channel closed after cancel")
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewNotifier(zerolog.Nop())
	events, cancel := n.Subscribe()
	defer cancel()

	for i := 0; i < 100; i++ {
		n.Publish(types.ChangeEvent{Kind: types.ChangeTasks})
	}
	if len(events) != cap(events) {
		t.Errorf("expected buffer full at %d, got %d", cap(events), len(events))
	}
}

func TestChangeEventFor(t *testing.T) {
	var doc changeStreamDoc
	doc.NS.Coll = tasksCollection
	doc.FullDocument.AgentID = "a1"
	doc.FullDocument.MonthID = "2025-03"
	doc.FullDocument.DayID = "2025-03-03"

	ev, ok := changeEventFor(doc)
	if !ok || ev.Kind != types.ChangeTasks || ev.DayID != "2025-03-03" {
		t.Errorf("unexpected event: %+v (ok=%v)", ev, ok)
	}

	doc = changeStreamDoc{}
	doc.NS.Coll = settingsCollection
	doc.DocumentKey.ID = positionsSettingID
	if ev, ok := changeEventFor(doc); !ok || ev.Kind != types.ChangeTargets {
		t.Errorf("expected targets event, got %+v", ev)
	}

	doc.NS.Coll = "unrelated"
	if _, ok := changeEventFor(doc); ok {
		t.Error("expected unrelated collection to be ignored")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("STORE_MODE", "MongoDB")
	t.Setenv("MONGO_DATABASE", "scores")
	t.Setenv("MONGO_WATCH", "true")
	t.Setenv("DYNAMO_MODE", "bogus")

	cfg := LoadConfig()
	if cfg.Mode != ModeMongoDB {
		t.Errorf("expected mongodb mode, got %s", cfg.Mode)
	}
	if cfg.Mongo.Database != "scores" || !cfg.Mongo.Watch {
		t.Errorf("unexpected mongo config: %+v", cfg.Mongo)
	}
	if cfg.Dynamo.Mode != DynamoModeLocal {
		t.Errorf("expected fallback to local dynamo mode, got %s", cfg.Dynamo.Mode)
	}

	t.Setenv("STORE_MODE", "cassandra")
	if cfg := LoadConfig(); cfg.Mode != ModeMemory {
		t.Errorf("expected memory fallback, got %s", cfg.Mode)
	}
}
