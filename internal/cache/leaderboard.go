package cache

import (
	"sort"
	"sync"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// LeaderboardCache stores the last committed leaderboard of each month
type LeaderboardCache struct {
	boards map[string]types.Leaderboard
	mu     sync.RWMutex
}

// NewLeaderboardCache creates a new leaderboard cache
func NewLeaderboardCache() *LeaderboardCache {
	return &LeaderboardCache{
		boards: make(map[string]types.Leaderboard),
	}
}

// Put stores a leaderboard, replacing the previous one of its month
func (c *LeaderboardCache) Put(lb types.Leaderboard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boards[lb.MonthID] = lb
}

// Get returns the cached leaderboard of a month
func (c *LeaderboardCache) Get(monthID string) (types.Leaderboard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lb, ok := c.boards[monthID]
	if !ok {
		return types.Leaderboard{}, false
	}
	lb.Rows = append([]types.RankingRow(nil), lb.Rows...)
	return lb, true
}

// Months returns the cached months in ascending order
func (c *LeaderboardCache) Months() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	months := make([]string, 0, len(c.boards))
	for m := range c.boards {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

// Size returns the number of cached months
func (c *LeaderboardCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.boards)
}
