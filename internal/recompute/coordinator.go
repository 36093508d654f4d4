package recompute

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/cache"
	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/dennisdiepolder/kpiboard/internal/ranking"
	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultDebounce is the window in which recompute requests coalesce
	DefaultDebounce = 100 * time.Millisecond

	// maxWatched bounds the months kept up to date in the background
	maxWatched = 24
)

// Publisher pushes committed leaderboards to connected dashboards
type Publisher interface {
	PublishLeaderboard(lb types.Leaderboard)
}

// Recorder keeps a history of committed leaderboards
type Recorder interface {
	RecordLeaderboard(ctx context.Context, lb types.Leaderboard) error
}

// SnapshotSource provides the roster, targets and weights of a pass
type SnapshotSource interface {
	Snapshot() ranking.Snapshot
}

// Coordinator is the single entry point for leaderboard recomputes. Requests
// for a month coalesce within the debounce window, and of overlapping passes
// for a month only the latest started one is committed.
type Coordinator struct {
	engine    *ranking.Engine
	state     SnapshotSource
	boards    *cache.LeaderboardCache
	publisher Publisher
	recorder  Recorder
	debounce  time.Duration
	logger    zerolog.Logger

	mu         sync.Mutex
	watched    map[string]bool
	pending    map[string]bool
	seq        uint64
	generation map[string]uint64 // monthID -> latest started pass, while one is in flight
	trigger    chan struct{}
	wg         sync.WaitGroup
}

// NewCoordinator creates a new coordinator. publisher and recorder may be nil.
func NewCoordinator(engine *ranking.Engine, state SnapshotSource, boards *cache.LeaderboardCache, publisher Publisher, recorder Recorder, debounce time.Duration, logger zerolog.Logger) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Coordinator{
		engine:     engine,
		state:      state,
		boards:     boards,
		publisher:  publisher,
		recorder:   recorder,
		debounce:   debounce,
		logger:     logger.With().Str("component", "recompute").Logger(),
		watched:    make(map[string]bool),
		pending:    make(map[string]bool),
		generation: make(map[string]uint64),
		trigger:    make(chan struct{}, 1),
	}
}

// Start runs queued recomputes until ctx is cancelled, then waits for the
// passes in flight
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info().Dur("debounce", c.debounce).Msg("recompute coordinator started")
	defer func() {
		c.wg.Wait()
		c.logger.Info().Msg("recompute coordinator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		}

		timer := time.NewTimer(c.debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		for _, month := range c.takePending() {
			c.wg.Add(1)
			go func(month string) {
				defer c.wg.Done()
				if _, err := c.Recompute(ctx, month); err != nil && ctx.Err() == nil {
					c.logger.Error().Err(err).Str("month", month).Msg("recompute failed")
				}
			}(month)
		}
	}
}

// Watch keeps a month up to date and requests a pass when the month is new
func (c *Coordinator) Watch(monthID string) {
	if c.Track(monthID) {
		c.Request(monthID)
	}
}

// Track adds a month to the set refreshed by RequestAll without requesting a
// pass. It reports whether the month was not tracked before.
func (c *Coordinator) Track(monthID string) bool {
	if !types.IsMonthID(monthID) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watched[monthID] {
		return false
	}
	if len(c.watched) >= maxWatched {
		// evict the oldest month
		oldest := ""
		for m := range c.watched {
			if oldest == "" || m < oldest {
				oldest = m
			}
		}
		delete(c.watched, oldest)
	}
	c.watched[monthID] = true
	return true
}

// Watched returns the watched months in ascending order
func (c *Coordinator) Watched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.watched))
	for m := range c.watched {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Request queues a pass for a month
func (c *Coordinator) Request(monthID string) {
	if !types.IsMonthID(monthID) {
		return
	}
	c.mu.Lock()
	c.pending[monthID] = true
	c.mu.Unlock()
	c.signal()
}

// RequestAll queues a pass for every watched month
func (c *Coordinator) RequestAll() {
	c.mu.Lock()
	for m := range c.watched {
		c.pending[m] = true
	}
	n := len(c.pending)
	c.mu.Unlock()

	if n > 0 {
		c.signal()
	}
}

func (c *Coordinator) signal() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Coordinator) takePending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	months := make([]string, 0, len(c.pending))
	for m := range c.pending {
		months = append(months, m)
	}
	c.pending = make(map[string]bool)
	sort.Strings(months)
	return months
}

// Recompute runs a pass for a month synchronously and returns its result.
// The result is committed only if no later pass for the month started
// meanwhile.
func (c *Coordinator) Recompute(ctx context.Context, monthID string) (types.Leaderboard, error) {
	if !types.IsMonthID(monthID) {
		return types.Leaderboard{}, fmt.Errorf("%w: %q", scoring.ErrInvalidMonth, monthID)
	}

	// generations are unique across months, so a released entry never
	// matches a pass that started before it
	c.mu.Lock()
	c.seq++
	gen := c.seq
	c.generation[monthID] = gen
	c.mu.Unlock()

	m := metrics.Get()
	start := time.Now()

	lb, err := c.engine.RecomputeLeaderboard(ctx, monthID, c.state.Snapshot())
	if err != nil {
		c.release(monthID, gen)
		m.RecordRecomputeError()
		return types.Leaderboard{}, fmt.Errorf("failed to recompute %s: %w", monthID, err)
	}

	if !c.commit(lb, gen) {
		m.RecordRecomputeSuperseded()
		c.logger.Debug().Str("month", monthID).Uint64("generation", gen).Msg("dropping superseded leaderboard")
		return lb, nil
	}
	m.RecordRecompute(time.Since(start), lb.Ranked)

	c.logger.Debug().
		Str("month", monthID).
		Uint64("generation", gen).
		Int("ranked", lb.Ranked).
		Int("rows", len(lb.Rows)).
		Int("failures", len(lb.Failures)).
		Dur("duration", time.Since(start)).
		Msg("leaderboard committed")

	if c.recorder != nil {
		if err := c.recorder.RecordLeaderboard(ctx, lb); err != nil {
			c.logger.Warn().Err(err).Str("month", monthID).Msg("failed to record leaderboard history")
		}
	}
	return lb, nil
}

// commit stores and broadcasts lb if gen is still the latest pass of its
// month. Broadcasting under the lock keeps pushes in commit order.
func (c *Coordinator) commit(lb types.Leaderboard, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation[lb.MonthID] != gen {
		return false
	}
	delete(c.generation, lb.MonthID)
	c.boards.Put(lb)
	if c.publisher != nil {
		c.publisher.PublishLeaderboard(lb)
		metrics.Get().RecordLeaderboardBroadcast()
	}
	return true
}

// release forgets a failed pass if no later pass for the month started
func (c *Coordinator) release(monthID string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation[monthID] == gen {
		delete(c.generation, monthID)
	}
}
