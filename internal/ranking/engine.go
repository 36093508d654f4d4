package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/alerts"
	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSize is the number of rows kept on a leaderboard
	DefaultSize = 10

	// DefaultConcurrency bounds the per-agent fetches of one pass
	DefaultConcurrency = 8
)

// DataSource provides the per-agent monthly data of a pass
type DataSource interface {
	ListMonthTasks(ctx context.Context, agentID, monthID string) ([]types.DailyTaskRecord, error)
	GetMonthlyKpi(ctx context.Context, agentID, monthID string) (*types.MonthlyKpiRecord, error)
}

// Snapshot is the shared configuration a pass runs against, captured once at
// the start of the pass
type Snapshot struct {
	Roster  []types.Agent
	Targets types.PositionTargetTable
	Weights types.PerformanceWeights
}

// Engine computes agent rows and monthly leaderboards
type Engine struct {
	source       DataSource
	concurrency  int
	size         int
	fetchTimeout time.Duration
	logger       zerolog.Logger
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	Concurrency  int
	Size         int
	FetchTimeout time.Duration
}

// NewEngine creates a new ranking engine
func NewEngine(source DataSource, opts Options, logger zerolog.Logger) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	return &Engine{
		source:       source,
		concurrency:  opts.Concurrency,
		size:         opts.Size,
		fetchTimeout: opts.FetchTimeout,
		logger:       logger.With().Str("component", "ranking").Logger(),
	}
}

// RecomputeLeaderboard scores every non-admin agent of the snapshot for the
// month and returns the top rows. An agent whose data cannot be loaded is left
// out and listed in Failures; only an invalid month or a cancelled context
// fails the pass.
func (e *Engine) RecomputeLeaderboard(ctx context.Context, monthID string, snap Snapshot) (types.Leaderboard, error) {
	if !types.IsMonthID(monthID) {
		return types.Leaderboard{}, fmt.Errorf("%w: %q", scoring.ErrInvalidMonth, monthID)
	}

	agents := make([]types.Agent, 0, len(snap.Roster))
	for _, a := range snap.Roster {
		if !a.IsAdmin() {
			agents = append(agents, a)
		}
	}

	rows := make([]types.RankingRow, len(agents))
	errs := make([]error, len(agents))

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i := range agents {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return nil
			}
			rows[i], errs[i] = e.ScoreAgent(ctx, agents[i], monthID, snap)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return types.Leaderboard{}, err
	}

	m := metrics.Get()
	scored := make([]types.RankingRow, 0, len(agents))
	var failures []types.AgentFailure
	for i := range agents {
		if errs[i] != nil {
			m.RecordAgentFetchError()
			e.logger.Warn().
				Err(errs[i]).
				Str("agent_id", agents[i].AgentID).
				Str("month", monthID).
				Msg("agent left out of leaderboard")
			failures = append(failures, types.AgentFailure{AgentID: agents[i].AgentID, Error: errs[i].Error()})
			continue
		}
		scored = append(scored, rows[i])
	}

	SortRows(scored)
	ranked := len(scored)
	if len(scored) > e.size {
		scored = scored[:e.size]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}

	return types.Leaderboard{
		MonthID:    monthID,
		Rows:       scored,
		Failures:   failures,
		Weights:    snap.Weights,
		Ranked:     ranked,
		ComputedAt: time.Now(),
	}, nil
}

// ScoreAgent computes one agent's row for the month. It is the single scoring
// path behind both the leaderboard and the per-agent performance view.
func (e *Engine) ScoreAgent(ctx context.Context, agent types.Agent, monthID string, snap Snapshot) (types.RankingRow, error) {
	if e.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
		defer cancel()
	}

	records, err := e.source.ListMonthTasks(ctx, agent.AgentID, monthID)
	if err != nil {
		return types.RankingRow{}, fmt.Errorf("failed to list task records: %w", err)
	}
	kpi, err := e.source.GetMonthlyKpi(ctx, agent.AgentID, monthID)
	if err != nil {
		return types.RankingRow{}, fmt.Errorf("failed to get kpi record: %w", err)
	}

	row := BuildRow(agent, monthID, records, kpi, snap)
	row.Alerts = alerts.CheckRow(row)
	return row, nil
}

// BuildRow scores already-loaded data into a row, without alerts or rank
func BuildRow(agent types.Agent, monthID string, records []types.DailyTaskRecord, kpi *types.MonthlyKpiRecord, snap Snapshot) types.RankingRow {
	agg := scoring.AggregateMonth(records, monthID)
	target := scoring.ResolveTarget(snap.Targets, agent.Position)

	taskScore := scoring.TaskScore(float64(agg.Total), target)
	attendance := scoring.AttendanceFromKpi(kpi)
	attitude := scoring.AttitudeFromKpi(kpi)
	overall := scoring.Overall(taskScore, attendance, attitude, snap.Weights)

	return types.RankingRow{
		AgentID:         agent.AgentID,
		Name:            agent.Name,
		Client:          agent.DisplayClient(),
		Position:        agent.Position,
		TotalTasks:      agg.Total,
		Target:          target,
		TaskScore:       taskScore,
		AttendanceScore: attendance,
		AttitudeScore:   attitude,
		Overall:         overall,
		Band:            scoring.BandOf(overall),
		KpiRecorded:     kpi != nil,
	}
}

// SortRows orders rows by overall score descending, then name ascending
// (case-insensitive), then agent id ascending
func SortRows(rows []types.RankingRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Overall != b.Overall {
			return a.Overall > b.Overall
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.AgentID < b.AgentID
	})
}
