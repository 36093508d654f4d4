package ticker

import (
	"context"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// Resyncer reloads shared state from the store and recomputes watched months
type Resyncer interface {
	Resync(ctx context.Context) error
}

// Watcher keeps a month's leaderboard up to date
type Watcher interface {
	Watch(monthID string)
}

// Ticker periodically resynchronizes with the store so that change events
// lost by a slow subscriber are eventually applied
type Ticker struct {
	syncer   Resyncer
	watcher  Watcher
	interval time.Duration
	logger   zerolog.Logger
}

// NewTicker creates a new Ticker. watcher may be nil.
func NewTicker(syncer Resyncer, watcher Watcher, interval time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		syncer:   syncer,
		watcher:  watcher,
		interval: interval,
		logger:   logger.With().Str("component", "resync").Logger(),
	}
}

// Start runs a resync on every tick until ctx is cancelled
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case now := <-ticker.C:
			// follow the calendar into a new month
			if t.watcher != nil {
				t.watcher.Watch(types.MonthIDOf(now))
			}

			if err := t.syncer.Resync(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Error().Err(err).Msg("resync failed")
				continue
			}
			t.logger.Debug().Time("at", now).Msg("resync completed")
		}
	}
}
