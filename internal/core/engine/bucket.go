package engine

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuous-refill token bucket. Tokens accrue
// proportionally to elapsed time, capped at capacity, and are computed lazily
// on each access so an idle bucket never overshoots its burst allowance.
type TokenBucket struct {
	capacity float64
	period   time.Duration

	mu     sync.Mutex
	tokens float64
	last   time.Time

	// Clock overrides the time source; tests inject a fake clock.
	Clock func() time.Time
}

// NewTokenBucket creates a full bucket allowing capacity calls per period.
func NewTokenBucket(capacity float64, period time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if period <= 0 {
		period = time.Second
	}
	b := &TokenBucket{
		capacity: capacity,
		period:   period,
	}
	b.tokens = capacity
	b.last = b.now()
	return b
}

// Acquire blocks until a token is available, then consumes it. It is safe for
// concurrent use; each waiter re-evaluates the refill after waking so wait
// times shrink as tokens accrue. Cancellation via ctx leaves the bucket
// untouched: an abandoned wait never consumes a token.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		b.mu.Unlock()

		wait := time.Duration(deficit / b.rate() * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset restores the bucket to full capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.capacity
	b.last = b.now()
}

// Tokens returns the current token count after applying any pending refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Capacity returns the maximum token count.
func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}

// SetTokens seeds the token count, clamped to [0, capacity]. Used when
// restoring persisted limiter state at startup.
func (b *TokenBucket) SetTokens(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case n < 0:
		n = 0
	case n > b.capacity:
		n = b.capacity
	}
	b.tokens = n
	b.last = b.now()
}

// refillLocked credits tokens for elapsed time. Callers must hold b.mu.
func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate()
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

func (b *TokenBucket) rate() float64 {
	return b.capacity / b.period.Seconds()
}

func (b *TokenBucket) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}
