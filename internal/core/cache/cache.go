// Package cache provides a keyed TTL response cache with per-data-type TTL
// policy. TTLs shrink when the current moment is close to a natural refresh
// boundary: aggregates for a still-open period are likely to change right
// before the period rolls over, while closed periods are stable.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridlens/gridlens/internal/core"
)

// DataType selects a TTL policy for cached values.
type DataType string

const (
	DataHomes             DataType = "homes"
	DataDevices           DataType = "devices"
	DataAuth              DataType = "auth"
	DataDailyRewards      DataType = "rewards_daily"
	DataMonthlyRewards    DataType = "rewards_monthly"
	DataHistoricalRewards DataType = "rewards_historical"
)

const defaultTTL = 5 * time.Minute

// Base TTLs per data type. Homes rarely change, devices occasionally, auth
// tokens are valid for an hour, and historical rewards never change.
var ttlPolicy = map[DataType]time.Duration{
	DataHomes:             time.Hour,
	DataDevices:           30 * time.Minute,
	DataAuth:              55 * time.Minute,
	DataDailyRewards:      5 * time.Minute,
	DataMonthlyRewards:    15 * time.Minute,
	DataHistoricalRewards: time.Hour,
}

type entry struct {
	method    string
	value     any
	cachedAt  time.Time
	expiresAt time.Time
}

// Cache stores API responses keyed by method name and arguments. Entries
// expire by TTL only; there is no size-based eviction, so growth is bounded
// by the caller's key variety. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	hits    uint64
	misses  uint64

	logger *zap.Logger

	// Clock overrides the time source; tests inject a fixed clock.
	Clock func() time.Time
}

// New creates an empty cache.
func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Key derives the deterministic cache key for a method and its arguments.
// Arguments are sorted by name so call-site ordering never affects the key.
func Key(method string, args map[string]string) string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, [2]string{name, args[name]})
	}

	encoded, _ := json.Marshal(pairs)
	sum := sha256.Sum256(append([]byte(method+":"), encoded...))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value for method+args if present and unexpired.
// Expired entries are removed on the spot. Every lookup counts as a hit or
// a miss.
func (c *Cache) Get(method string, args map[string]string) (any, bool) {
	key := Key(method, args)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			c.hits++
			c.logger.Debug("cache hit",
				zap.String("method", method),
				zap.Duration("age", now.Sub(e.cachedAt)),
				zap.Duration("expires_in", e.expiresAt.Sub(now)))
			return e.value, true
		}
		delete(c.entries, key)
		c.logger.Debug("cache entry expired", zap.String("method", method))
	}

	c.misses++
	c.logger.Debug("cache miss", zap.String("method", method))
	return nil, false
}

// Set stores a value with the given TTL. A non-positive TTL falls back to the
// default.
func (c *Cache) Set(method string, value any, ttl time.Duration, args map[string]string) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	key := Key(method, args)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		method:    method,
		value:     value,
		cachedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// SetSmart stores a value with the data type's policy TTL, shortened near the
// data's natural refresh boundary: daily aggregates get a 1-minute TTL in the
// last two hours before UTC midnight, monthly aggregates a 5-minute TTL in
// the closing days of the month.
func (c *Cache) SetSmart(method string, value any, dataType DataType, args map[string]string) {
	ttl, ok := ttlPolicy[dataType]
	if !ok {
		ttl = defaultTTL
	}

	now := c.now().UTC()
	switch dataType {
	case DataDailyRewards:
		if 24-now.Hour() <= 2 {
			ttl = time.Minute
		}
	case DataMonthlyRewards:
		if now.Day() >= 29 {
			ttl = 5 * time.Minute
		}
	}

	c.Set(method, value, ttl, args)
	c.logger.Debug("smart cached",
		zap.String("method", method),
		zap.String("data_type", string(dataType)),
		zap.Duration("ttl", ttl))
}

// Invalidate removes cache entries. With an empty method it clears the whole
// cache; with a method and args it removes that single entry; with only a
// method it removes every entry stored under that method.
func (c *Cache) Invalidate(method string, args map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case method == "":
		count := len(c.entries)
		c.entries = make(map[string]entry)
		c.logger.Info("cache cleared", zap.Int("removed", count))
	case args != nil:
		delete(c.entries, Key(method, args))
	default:
		for key, e := range c.entries {
			if e.method == method {
				delete(c.entries, key)
			}
		}
	}
}

// Cleanup sweeps expired entries. Get already self-invalidates lazily, so
// this is amortized housekeeping rather than a correctness requirement.
func (c *Cache) Cleanup() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cleaned up expired cache entries", zap.Int("removed", removed))
	}
}

// Stats returns hit/miss counters and the current entry count.
func (c *Cache) Stats() core.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return core.CacheStats{
		Entries:       len(c.entries),
		Hits:          c.hits,
		Misses:        c.misses,
		HitRate:       rate,
		TotalRequests: total,
	}
}

func (c *Cache) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}
