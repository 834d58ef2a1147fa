package state

import (
	"math"
	"math/rand"
	"sync"

	"cashout-mirror/src/models"
)

// -----------------------------------------------------------------------------
// StateCache
// -----------------------------------------------------------------------------

// StateCache holds the latest known mirror of the upstream state: candle
// history, win/loss stats, last round result, online count and the
// notification click log. It is the single owner of that state; the mirror
// client writes it, API handlers and newly connecting clients read it.
type StateCache struct {
	mu sync.RWMutex

	stats      models.MStats
	velas      []float64
	lastResult *models.MResult
	online     int

	clicks     []models.MNotificationClick
	velasLimit int
	clickLimit int
}

// -----------------------------------------------------------------------------

func NewStateCache(cfg *models.MConfig) *StateCache {
	return &StateCache{
		velasLimit: cfg.Cache.VelasLimit,
		clickLimit: cfg.Cache.ClickLogLimit,
	}
}

// -----------------------------------------------------------------------------
// Stats
// -----------------------------------------------------------------------------

func (c *StateCache) Stats() models.MStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// -----------------------------------------------------------------------------

// SetStats replaces the cached stats wholesale. Used by the authoritative
// upstream resync, which wins over local optimistic increments.
func (c *StateCache) SetStats(s models.MStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = s
}

// -----------------------------------------------------------------------------

// RecordResult applies one round outcome to the stats as an optimistic
// interim update and returns the new snapshot. The increment is synchronous
// so the wins/loss/total/percentage invariant can never be observed broken.
func (c *StateCache) RecordResult(status string) models.MStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if status == models.ResultGreen {
		c.stats.Wins++
	} else {
		c.stats.Loss++
	}
	c.stats.Total = c.stats.Wins + c.stats.Loss
	if c.stats.Total > 0 {
		c.stats.Percentage = int(math.Round(float64(c.stats.Wins) / float64(c.stats.Total) * 100))
	} else {
		c.stats.Percentage = 0
	}
	return c.stats
}

// -----------------------------------------------------------------------------
// Velas
// -----------------------------------------------------------------------------

func (c *StateCache) Velas() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]float64, len(c.velas))
	copy(out, c.velas)
	return out
}

// -----------------------------------------------------------------------------

func (c *StateCache) VelasCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.velas)
}

// -----------------------------------------------------------------------------

// SetVelas replaces the candle history. The upstream is inconsistent about
// orientation, so the incoming series is normalized against the previously
// cached head: if the new series ends at the old head value and does not
// start with it, it arrived reversed and is flipped before caching.
// Retained history is bounded from the head side.
func (c *StateCache) SetVelas(incoming []float64) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	vals := make([]float64, len(incoming))
	copy(vals, incoming)

	if len(c.velas) > 0 && len(vals) > 1 {
		prevHead := c.velas[0]
		if vals[len(vals)-1] == prevHead && vals[0] != prevHead {
			for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
				vals[i], vals[j] = vals[j], vals[i]
			}
		}
	}

	if c.velasLimit > 0 && len(vals) > c.velasLimit {
		vals = vals[:c.velasLimit]
	}

	c.velas = vals
	out := make([]float64, len(vals))
	copy(out, vals)
	return out
}

// -----------------------------------------------------------------------------
// Last Result
// -----------------------------------------------------------------------------

// LastResult returns the canonical last round result. Both the historico
// and resultado endpoints read this single slot; the upstream emits
// identical payloads for the two.
func (c *StateCache) LastResult() *models.MResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastResult == nil {
		return nil
	}
	r := *c.lastResult
	return &r
}

// -----------------------------------------------------------------------------

func (c *StateCache) SetLastResult(r models.MResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastResult = &r
}

// -----------------------------------------------------------------------------
// Online Count
// -----------------------------------------------------------------------------

func (c *StateCache) Online() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// -----------------------------------------------------------------------------

func (c *StateCache) SetOnline(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = n
}

// -----------------------------------------------------------------------------

// OnlineOrFallback returns the cached online count, or a randomized
// plausible value (5-12) while the cache is empty. Cosmetic, not a
// correctness guarantee.
func (c *StateCache) OnlineOrFallback() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.online > 0 {
		return c.online
	}
	return rand.Intn(8) + 5
}

// -----------------------------------------------------------------------------
// Notification Clicks
// -----------------------------------------------------------------------------

// RecordClick appends to the bounded click log (newest retained).
func (c *StateCache) RecordClick(click models.MNotificationClick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clicks = append(c.clicks, click)
	if c.clickLimit > 0 && len(c.clicks) > c.clickLimit {
		c.clicks = c.clicks[len(c.clicks)-c.clickLimit:]
	}
}

// -----------------------------------------------------------------------------

func (c *StateCache) Clicks() []models.MNotificationClick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.MNotificationClick, len(c.clicks))
	copy(out, c.clicks)
	return out
}
