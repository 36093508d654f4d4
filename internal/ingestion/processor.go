package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/kpiboard/internal/cache"
	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/storage"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// ErrUnknownKind is returned for change events of an unknown kind
var ErrUnknownKind = errors.New("unknown change kind")

// DefaultProcessor re-reads changed documents from the store into the shared
// state and requests the recomputes they affect
type DefaultProcessor struct {
	store     storage.Store
	state     *cache.State
	recompute Requester
	logger    zerolog.Logger
}

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(store storage.Store, state *cache.State, recompute Requester, logger zerolog.Logger) *DefaultProcessor {
	return &DefaultProcessor{
		store:     store,
		state:     state,
		recompute: recompute,
		logger:    logger.With().Str("component", "ingestion").Logger(),
	}
}

// Process applies one change event
func (p *DefaultProcessor) Process(ctx context.Context, ev types.ChangeEvent) error {
	switch ev.Kind {
	case types.ChangeRoster:
		if err := p.reloadAgent(ctx, ev.AgentID); err != nil {
			return err
		}
		p.recompute.RequestAll()

	case types.ChangeWeights:
		if err := p.reloadWeights(ctx); err != nil {
			return err
		}
		p.recompute.RequestAll()

	case types.ChangeTargets:
		if err := p.reloadTargets(ctx); err != nil {
			return err
		}
		p.recompute.RequestAll()

	case types.ChangeKpi, types.ChangeTasks:
		month := ev.MonthID
		if month == "" && ev.DayID != "" {
			month, _ = types.MonthOfDay(ev.DayID)
		}
		if types.IsMonthID(month) {
			p.recompute.Request(month)
		} else {
			p.recompute.RequestAll()
		}

	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}

	p.logger.Debug().
		Str("kind", string(ev.Kind)).
		Str("agent_id", ev.AgentID).
		Str("month", ev.MonthID).
		Msg("change processed")
	return nil
}

// Resync reloads roster, weights and targets and recomputes every watched month
func (p *DefaultProcessor) Resync(ctx context.Context) error {
	if err := p.reloadRoster(ctx); err != nil {
		return err
	}
	if err := p.reloadWeights(ctx); err != nil {
		return err
	}
	if err := p.reloadTargets(ctx); err != nil {
		return err
	}
	p.recompute.RequestAll()
	return nil
}

// Run applies the events of source until ctx is cancelled
func (p *DefaultProcessor) Run(ctx context.Context, source ChangeSource) {
	events, cancel := source.Subscribe()
	defer cancel()

	m := metrics.Get()
	p.logger.Info().Msg("change processor started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("change processor stopped")
			return

		case ev, ok := <-events:
			if !ok {
				p.logger.Warn().Msg("change subscription closed")
				return
			}
			m.RecordChangeReceived()
			if err := p.Process(ctx, ev); err != nil {
				m.RecordChangeError()
				p.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to process change")
				continue
			}
			m.RecordChangeProcessed()
		}
	}
}

func (p *DefaultProcessor) reloadRoster(ctx context.Context) error {
	agents, err := p.store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload roster: %w", err)
	}
	p.state.SetRoster(agents)
	metrics.Get().UpdateRosterStats(agents)
	return nil
}

func (p *DefaultProcessor) reloadAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return p.reloadRoster(ctx)
	}

	agent, err := p.store.GetAgent(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return p.reloadRoster(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to reload agent %s: %w", agentID, err)
	}
	p.state.UpsertAgent(agent)
	metrics.Get().UpdateRosterStats(p.state.Roster())
	return nil
}

func (p *DefaultProcessor) reloadWeights(ctx context.Context) error {
	doc, err := p.store.GetWeights(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload weights: %w", err)
	}
	p.state.SetWeights(scoring.ResolveWeights(doc))
	return nil
}

func (p *DefaultProcessor) reloadTargets(ctx context.Context) error {
	table, err := p.store.GetPositionTargets(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload targets: %w", err)
	}
	p.state.SetTargets(table)
	return nil
}
