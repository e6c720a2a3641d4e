// Package ratelimit provides token-bucket admission control for the
// generation backend, per client and globally.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// bucket is a lazily refilled token bucket. All state is guarded by mu;
// refill is computed from elapsed wall-clock time on access, never by a
// background timer.
type bucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	burst      float64
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

func newBucket(capacity, refillRate float64, burst int, now time.Time) *bucket {
	return &bucket{
		capacity:   capacity,
		refillRate: refillRate,
		burst:      float64(burst),
		tokens:     capacity,
		lastRefill: now,
		lastAccess: now,
	}
}

// refillLocked advances the bucket to now. Callers must hold mu.
func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.tokens+elapsed*b.refillRate, b.capacity+b.burst)
	}
	b.lastRefill = now
}

// consume refills, then takes n tokens if available.
func (b *bucket) consume(n float64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// refund returns n tokens, capped at capacity plus burst.
func (b *bucket) refund(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = math.Min(b.tokens+n, b.capacity+b.burst)
}

// retryAfter returns the whole seconds until one token is available,
// zero if a consume would already succeed.
func (b *bucket) retryAfter(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	if b.tokens >= 1 {
		return 0
	}
	return int(math.Ceil((1 - b.tokens) / b.refillRate))
}

// touch marks the bucket as recently used so the sweeper keeps it.
func (b *bucket) touch(now time.Time) {
	b.mu.Lock()
	b.lastAccess = now
	b.mu.Unlock()
}

// idleSince reports whether the bucket has been unused past threshold.
func (b *bucket) idleSince(now time.Time, threshold time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastAccess) > threshold
}
