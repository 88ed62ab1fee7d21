package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridlens/gridlens/internal/core"
)

// The unofficial API allows roughly 100 calls per hour. We stay under that
// with a sustained tier of 80/hour plus a burst tier of 20 per 15 minutes.
const (
	DefaultHourlyLimit  = 80
	DefaultHourlyWindow = time.Hour
	DefaultBurstLimit   = 20
	DefaultBurstWindow  = 15 * time.Minute

	defaultSaveInterval = time.Minute
)

// Snapshotter persists limiter state across process restarts. Load returns
// nil when no snapshot exists.
type Snapshotter interface {
	Load(ctx context.Context) (*core.LimiterSnapshot, error)
	Save(ctx context.Context, snap core.LimiterSnapshot) error
	Remove(ctx context.Context) error
}

// MultiTierLimiter gates requests behind two token buckets: a sustained
// hourly window and a tighter burst window. Both must grant a token before a
// request may proceed. Token counts survive restarts via the Snapshotter.
type MultiTierLimiter struct {
	hourly *TokenBucket
	burst  *TokenBucket

	snapshots    Snapshotter
	logger       *zap.Logger
	saveInterval time.Duration

	mu          sync.Mutex
	lastSave    time.Time
	initialized bool

	// Clock overrides the save-interval time source for tests.
	Clock func() time.Time
}

// LimiterConfig tunes the two tiers. Zero values fall back to defaults.
type LimiterConfig struct {
	HourlyLimit  float64
	HourlyWindow time.Duration
	BurstLimit   float64
	BurstWindow  time.Duration
	SaveInterval time.Duration
}

// NewMultiTierLimiter builds a limiter with both buckets full. snapshots may
// be nil, in which case state is not persisted.
func NewMultiTierLimiter(cfg LimiterConfig, snapshots Snapshotter, logger *zap.Logger) *MultiTierLimiter {
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = DefaultHourlyLimit
	}
	if cfg.HourlyWindow <= 0 {
		cfg.HourlyWindow = DefaultHourlyWindow
	}
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = DefaultBurstLimit
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = DefaultBurstWindow
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = defaultSaveInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MultiTierLimiter{
		hourly:       NewTokenBucket(cfg.HourlyLimit, cfg.HourlyWindow),
		burst:        NewTokenBucket(cfg.BurstLimit, cfg.BurstWindow),
		snapshots:    snapshots,
		logger:       logger,
		saveInterval: cfg.SaveInterval,
	}
}

// Initialize seeds the buckets from a persisted snapshot. It must be called
// before the first Acquire and is a no-op on subsequent calls. A missing or
// unreadable snapshot leaves both buckets at full capacity.
func (m *MultiTierLimiter) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	m.initialized = true
	m.lastSave = m.now()

	if m.snapshots == nil {
		return nil
	}

	snap, err := m.snapshots.Load(ctx)
	if err != nil {
		m.logger.Warn("failed to restore rate limiter state", zap.Error(err))
		return nil
	}
	if snap == nil {
		m.logger.Debug("no stored rate limiter state, starting at full capacity")
		return nil
	}

	m.hourly.SetTokens(snap.HourlyTokens)
	m.burst.SetTokens(snap.BurstTokens)
	m.logger.Debug("restored rate limiter state",
		zap.Float64("hourly_tokens", snap.HourlyTokens),
		zap.Float64("burst_tokens", snap.BurstTokens))
	return nil
}

// Acquire takes a token from the sustained tier, then from the burst tier.
// If the burst tier blocks, the sustained token already taken is not
// returned; the resulting slight over-consumption keeps us further below the
// provider quota. After a successful acquire, state is snapshotted in the
// background at most once per save interval.
func (m *MultiTierLimiter) Acquire(ctx context.Context) error {
	if err := m.hourly.Acquire(ctx); err != nil {
		return err
	}
	if err := m.burst.Acquire(ctx); err != nil {
		return err
	}

	m.maybeSnapshot()
	return nil
}

// Reset restores both tiers to full capacity.
func (m *MultiTierLimiter) Reset() {
	m.hourly.Reset()
	m.burst.Reset()
}

// Forget deletes persisted limiter state. In-memory token counts are
// unaffected; pair with Reset when an account is reset or removed.
func (m *MultiTierLimiter) Forget(ctx context.Context) error {
	if m.snapshots == nil {
		return nil
	}
	return m.snapshots.Remove(ctx)
}

// State returns the current token counts for diagnostics.
func (m *MultiTierLimiter) State() core.LimiterSnapshot {
	return core.LimiterSnapshot{
		HourlyTokens: m.hourly.Tokens(),
		BurstTokens:  m.burst.Tokens(),
		SavedAt:      m.now(),
	}
}

// maybeSnapshot persists token counts when the save interval has elapsed.
// Persistence runs detached from the caller and failures are logged, never
// surfaced: losing a snapshot only costs a little rate-limit conservatism.
func (m *MultiTierLimiter) maybeSnapshot() {
	if m.snapshots == nil {
		return
	}

	m.mu.Lock()
	now := m.now()
	if now.Sub(m.lastSave) < m.saveInterval {
		m.mu.Unlock()
		return
	}
	m.lastSave = now
	m.mu.Unlock()

	snap := core.LimiterSnapshot{
		HourlyTokens: m.hourly.Tokens(),
		BurstTokens:  m.burst.Tokens(),
		SavedAt:      now,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.snapshots.Save(ctx, snap); err != nil {
			m.logger.Debug("failed to save rate limiter state", zap.Error(err))
			return
		}
		m.logger.Debug("saved rate limiter state",
			zap.Float64("hourly_tokens", snap.HourlyTokens),
			zap.Float64("burst_tokens", snap.BurstTokens))
	}()
}

func (m *MultiTierLimiter) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}
