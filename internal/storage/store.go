package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when an agent does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a read-modify-write kept losing to concurrent writers
	ErrConflict = errors.New("concurrent modification, retry later")
)

// maxWriteAttempts bounds the optimistic retries of a read-modify-write
const maxWriteAttempts = 5

// Store defines the storage interface of the scoreboard documents. Reads of
// absent documents return zero values rather than errors, except GetAgent.
type Store interface {
	ListAgents(ctx context.Context) ([]types.Agent, error)
	GetAgent(ctx context.Context, agentID string) (types.Agent, error)
	UpsertAgent(ctx context.Context, agent types.Agent) (types.Agent, error)

	GetWeights(ctx context.Context) (*types.WeightsDocument, error)
	SaveWeights(ctx context.Context, w types.PerformanceWeights, updatedBy string) error
	GetPositionTargets(ctx context.Context) (types.PositionTargetTable, error)
	MergePositionTargets(ctx context.Context, table types.PositionTargetTable, updatedBy string) (types.PositionTargetTable, error)

	GetMonthlyKpi(ctx context.Context, agentID, monthID string) (*types.MonthlyKpiRecord, error)
	SaveMonthlyKpi(ctx context.Context, rec types.MonthlyKpiRecord) (types.MonthlyKpiRecord, error)

	GetDailyTasks(ctx context.Context, agentID, dayID string) (*types.DailyTaskRecord, error)
	ListMonthTasks(ctx context.Context, agentID, monthID string) ([]types.DailyTaskRecord, error)
	AppendTaskEntry(ctx context.Context, agentID, dayID string, entry types.TaskEntry) (types.DailyTaskRecord, error)

	// Subscribe returns a channel of change events and a function that
	// cancels the subscription
	Subscribe() (<-chan types.ChangeEvent, func())
	Close(ctx context.Context) error
}

// Notifier fans change events out to subscribers. Slow subscribers lose
// events instead of blocking writers.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan types.ChangeEvent
	next   int
	logger zerolog.Logger
}

// NewNotifier creates a new change notifier
func NewNotifier(logger zerolog.Logger) *Notifier {
	return &Notifier{
		subs:   make(map[int]chan types.ChangeEvent),
		logger: logger,
	}
}

// Subscribe registers a subscriber
func (n *Notifier) Subscribe() (<-chan types.ChangeEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan types.ChangeEvent, 64)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers an event to every subscriber
func (n *Notifier) Publish(ev types.ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.logger.Warn().
				Str("kind", string(ev.Kind)).
				Str("agent_id", ev.AgentID).
				Msg("subscriber full, dropping change event")
		}
	}
}

// Close ends every subscription
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

// normalizeAgent applies the stored defaults of a profile write
func normalizeAgent(agent types.Agent, existing *types.Agent, now time.Time) (types.Agent, error) {
	agent.AgentID = strings.TrimSpace(agent.AgentID)
	if agent.AgentID == "" {
		return agent, errors.New("agent id is required")
	}
	agent.Name = strings.TrimSpace(agent.Name)
	agent.Position = strings.TrimSpace(agent.Position)
	agent.Client = strings.TrimSpace(agent.Client)
	if agent.Client == "" {
		agent.Client = types.UnassignedClient
	}
	agent.Role = agent.EffectiveRole()

	agent.CreatedAt = now
	if existing != nil && !existing.CreatedAt.IsZero() {
		agent.CreatedAt = existing.CreatedAt
	}
	agent.UpdatedAt = now
	return agent, nil
}

// prepareEntry validates a task submission and stamps its id and time
func prepareEntry(dayID string, entry types.TaskEntry) (types.TaskEntry, string, error) {
	if !types.IsDayID(dayID) {
		return entry, "", fmt.Errorf("%w: %q", scoring.ErrInvalidDay, dayID)
	}
	monthID, err := types.MonthOfDay(dayID)
	if err != nil {
		return entry, "", fmt.Errorf("%w: %q", scoring.ErrInvalidDay, dayID)
	}

	entry, err = scoring.NormalizeEntry(entry)
	if err != nil {
		return entry, "", err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return entry, monthID, nil
}

// mergeKpi overlays a KPI write onto the stored record, keeping the legacy
// attendance value when the write carries none
func mergeKpi(existing *types.MonthlyKpiRecord, rec types.MonthlyKpiRecord, now time.Time) types.MonthlyKpiRecord {
	if existing != nil && rec.AttendancePoints == nil {
		rec.AttendancePoints = existing.AttendancePoints
	}
	rec.UpdatedAt = now
	return rec
}

// docKey is the document id of a per-agent, per-period record
func docKey(agentID, period string) string {
	return agentID + "_" + period
}

func cloneDay(rec *types.DailyTaskRecord) types.DailyTaskRecord {
	out := *rec
	out.PerActivity = make(map[string]int, len(rec.PerActivity))
	for k, v := range rec.PerActivity {
		out.PerActivity[k] = v
	}
	out.Entries = append([]types.TaskEntry(nil), rec.Entries...)
	return out
}

// NewStore creates the store selected by configuration
func NewStore(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Mode {
	case ModeDynamoDB:
		return NewDynamoDBStore(ctx, cfg.Dynamo, logger)
	case ModeMongoDB:
		return NewMongoStore(ctx, cfg.Mongo, logger)
	default:
		logger.Info().Msg("using in-memory store (STORE_MODE=memory)")
		return NewMemoryStore(logger), nil
	}
}
