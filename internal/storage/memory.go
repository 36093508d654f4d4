package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// MemoryStore is an in-process Store used for development and tests
type MemoryStore struct {
	mu      sync.RWMutex
	agents  map[string]types.Agent
	weights *types.WeightsDocument
	targets types.PositionTargetTable
	kpis    map[string]types.MonthlyKpiRecord
	tasks   map[string]map[string]*types.DailyTaskRecord // agentID -> dayID -> record

	notifier *Notifier
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]types.Agent),
		targets:  make(types.PositionTargetTable),
		kpis:     make(map[string]types.MonthlyKpiRecord),
		tasks:    make(map[string]map[string]*types.DailyTaskRecord),
		notifier: NewNotifier(logger.With().Str("component", "memory-store").Logger()),
	}
}

func (s *MemoryStore) ListAgents(_ context.Context) ([]types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *MemoryStore) GetAgent(_ context.Context, agentID string) (types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[agentID]
	if !ok {
		return types.Agent{}, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) UpsertAgent(_ context.Context, agent types.Agent) (types.Agent, error) {
	s.mu.Lock()
	var existing *types.Agent
	if a, ok := s.agents[strings.TrimSpace(agent.AgentID)]; ok {
		existing = &a
	}
	agent, err := normalizeAgent(agent, existing, time.Now())
	if err != nil {
		s.mu.Unlock()
		return agent, err
	}
	s.agents[agent.AgentID] = agent
	s.mu.Unlock()

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeRoster, AgentID: agent.AgentID})
	return agent, nil
}

func (s *MemoryStore) GetWeights(_ context.Context) (*types.WeightsDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.weights == nil {
		return nil, nil
	}
	doc := *s.weights
	return &doc, nil
}

func (s *MemoryStore) SaveWeights(_ context.Context, w types.PerformanceWeights, updatedBy string) error {
	if err := scoring.ValidateWeights(w); err != nil {
		return err
	}

	doc := scoring.WeightsDocumentFor(w)
	doc.UpdatedAt = time.Now()
	doc.UpdatedBy = updatedBy

	s.mu.Lock()
	if s.weights != nil {
		// merge keeps the legacy flat fields
		doc.WeightTask = s.weights.WeightTask
		doc.WeightAttendance = s.weights.WeightAttendance
		doc.WeightAttitude = s.weights.WeightAttitude
	}
	s.weights = &doc
	s.mu.Unlock()

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeWeights})
	return nil
}

func (s *MemoryStore) GetPositionTargets(_ context.Context) (types.PositionTargetTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targets.Clone(), nil
}

func (s *MemoryStore) MergePositionTargets(_ context.Context, table types.PositionTargetTable, _ string) (types.PositionTargetTable, error) {
	if err := scoring.ValidateTargets(table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for pos, v := range table {
		s.targets[strings.TrimSpace(pos)] = v
	}
	out := s.targets.Clone()
	s.mu.Unlock()

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeTargets})
	return out, nil
}

func (s *MemoryStore) GetMonthlyKpi(_ context.Context, agentID, monthID string) (*types.MonthlyKpiRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.kpis[docKey(agentID, monthID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) SaveMonthlyKpi(_ context.Context, rec types.MonthlyKpiRecord) (types.MonthlyKpiRecord, error) {
	if rec.AgentID == "" {
		return rec, fmt.Errorf("agent id is required")
	}
	if err := scoring.ValidateKpi(rec); err != nil {
		return rec, err
	}

	s.mu.Lock()
	var existing *types.MonthlyKpiRecord
	if cur, ok := s.kpis[docKey(rec.AgentID, rec.MonthID)]; ok {
		existing = &cur
	}
	rec = mergeKpi(existing, rec, time.Now())
	s.kpis[docKey(rec.AgentID, rec.MonthID)] = rec
	s.mu.Unlock()

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeKpi, AgentID: rec.AgentID, MonthID: rec.MonthID})
	return rec, nil
}

func (s *MemoryStore) GetDailyTasks(_ context.Context, agentID, dayID string) (*types.DailyTaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tasks[agentID][dayID]
	if !ok {
		return nil, nil
	}
	out := cloneDay(rec)
	return &out, nil
}

func (s *MemoryStore) ListMonthTasks(_ context.Context, agentID, monthID string) ([]types.DailyTaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.DailyTaskRecord
	for _, rec := range s.tasks[agentID] {
		if rec.MonthID == monthID {
			out = append(out, cloneDay(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayID < out[j].DayID })
	return out, nil
}

func (s *MemoryStore) AppendTaskEntry(_ context.Context, agentID, dayID string, entry types.TaskEntry) (types.DailyTaskRecord, error) {
	entry, monthID, err := prepareEntry(dayID, entry)
	if err != nil {
		return types.DailyTaskRecord{}, err
	}

	s.mu.Lock()
	days, ok := s.tasks[agentID]
	if !ok {
		days = make(map[string]*types.DailyTaskRecord)
		s.tasks[agentID] = days
	}
	rec, ok := days[dayID]
	if !ok {
		rec = &types.DailyTaskRecord{AgentID: agentID, DayID: dayID, MonthID: monthID}
		days[dayID] = rec
	}
	scoring.ApplyEntry(rec, entry)
	rec.UpdatedAt = time.Now()
	out := cloneDay(rec)
	s.mu.Unlock()

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeTasks, AgentID: agentID, MonthID: monthID, DayID: dayID})
	return out, nil
}

func (s *MemoryStore) Subscribe() (<-chan types.ChangeEvent, func()) {
	return s.notifier.Subscribe()
}

func (s *MemoryStore) Close(_ context.Context) error {
	s.notifier.Close()
	return nil
}
