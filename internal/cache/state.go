package cache

import (
	"sort"
	"sync"

	"github.com/dennisdiepolder/kpiboard/internal/ranking"
	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// State maintains the process-wide roster, weights and targets that every
// leaderboard pass runs against. Readers always receive copies.
type State struct {
	agents  map[string]types.Agent // agentID -> profile
	weights types.PerformanceWeights
	targets types.PositionTargetTable
	mu      sync.RWMutex
}

// NewState creates a state holding the default weights and the canonical positions
func NewState() *State {
	return &State{
		agents:  make(map[string]types.Agent),
		weights: scoring.DefaultWeights,
		targets: scoring.WithCanonicalPositions(nil),
	}
}

// SetRoster replaces the roster
func (s *State) SetRoster(agents []types.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agents = make(map[string]types.Agent, len(agents))
	for _, a := range agents {
		s.agents[a.AgentID] = a
	}
}

// UpsertAgent updates or adds a single profile
func (s *State) UpsertAgent(agent types.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.AgentID] = agent
}

// GetAgent returns a profile by id
func (s *State) GetAgent(agentID string) (types.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	return a, ok
}

// Roster returns all profiles ordered by agent id
func (s *State) Roster() []types.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterLocked()
}

func (s *State) rosterLocked() []types.Agent {
	out := make([]types.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// SetWeights replaces the weights. Callers pass weights already resolved
// through scoring.ResolveWeights.
func (s *State) SetWeights(w types.PerformanceWeights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = w
}

// Weights returns the current weights
func (s *State) Weights() types.PerformanceWeights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// SetTargets replaces the target table; canonical positions are always kept
func (s *State) SetTargets(table types.PositionTargetTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = scoring.WithCanonicalPositions(table)
}

// Targets returns a copy of the target table
func (s *State) Targets() types.PositionTargetTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targets.Clone()
}

// Snapshot captures roster, targets and weights in one consistent read
func (s *State) Snapshot() ranking.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ranking.Snapshot{
		Roster:  s.rosterLocked(),
		Targets: s.targets.Clone(),
		Weights: s.weights,
	}
}

// Count returns the number of ranked agents and admins on the roster
func (s *State) Count() (agents, admins int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.agents {
		if a.IsAdmin() {
			admins++
		} else {
			agents++
		}
	}
	return
}
