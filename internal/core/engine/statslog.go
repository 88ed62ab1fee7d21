package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gridlens/gridlens/internal/core"
)

// StatsSource exposes cache statistics for periodic logging.
type StatsSource interface {
	CacheStats() core.CacheStats
}

// LogCacheStats periodically logs cache efficiency until ctx is cancelled.
// It holds only a read reference to the stats source and stays silent until
// the cache has seen traffic.
func LogCacheStats(ctx context.Context, src StatsSource, logger *zap.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("cache stats logger stopped")
			return
		case <-ticker.C:
			stats := src.CacheStats()
			if stats.TotalRequests == 0 {
				continue
			}
			logger.Info("cache stats",
				zap.Int("entries", stats.Entries),
				zap.Float64("hit_rate", stats.HitRate),
				zap.Uint64("hits", stats.Hits),
				zap.Uint64("misses", stats.Misses))
		}
	}
}
