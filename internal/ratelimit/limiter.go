package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/config"
)

// Limiter gates access to the generation backend. Every admission must
// win a token from both the caller's bucket and the shared global bucket;
// when only the global bucket is exhausted the client token is refunded
// so the caller is not double-charged.
type Limiter struct {
	mu      sync.Mutex // guards clients map; held for O(1) operations only
	clients map[string]*bucket
	global  *bucket

	perMinute int
	burst     int

	idleThreshold time.Duration
	sweepEvery    time.Duration

	now func() time.Time
}

// New creates a limiter from configuration.
func New(cfg config.RateLimitConfig) *Limiter {
	now := time.Now
	return &Limiter{
		clients:       make(map[string]*bucket),
		global:        newBucket(float64(cfg.RequestsPerHour), float64(cfg.RequestsPerHour)/3600, cfg.BurstSize, now()),
		perMinute:     cfg.RequestsPerMinute,
		burst:         cfg.BurstSize,
		idleThreshold: cfg.IdleThreshold,
		sweepEvery:    cfg.SweepEvery,
		now:           now,
	}
}

// clientBucket returns the caller's bucket, creating it on first use.
// The registry lock also covers the touch so a concurrent sweep can
// never observe an in-flight bucket as idle.
func (l *Limiter) clientBucket(clientID string) *bucket {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[clientID]
	if !ok {
		b = newBucket(float64(l.perMinute), float64(l.perMinute)/60, l.burst, now)
		l.clients[clientID] = b
	}
	b.touch(now)
	return b
}

// Check reports whether one request for clientID is admitted.
func (l *Limiter) Check(clientID string) bool {
	now := l.now()
	cb := l.clientBucket(clientID)

	if !cb.consume(1, now) {
		slog.Warn("Client exceeded rate limit", "client_id", clientID)
		return false
	}
	if !l.global.consume(1, now) {
		slog.Warn("Global rate limit exceeded", "client_id", clientID)
		cb.refund(1)
		return false
	}
	return true
}

// RetryAfter returns the whole seconds until clientID becomes admissible
// again, zero if a Check would currently succeed.
func (l *Limiter) RetryAfter(clientID string) int {
	l.mu.Lock()
	b, ok := l.clients[clientID]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return b.retryAfter(l.now())
}

// Sweep removes buckets unused past the idle threshold and returns how
// many were dropped.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.clients {
		if b.idleSince(now, l.idleThreshold) {
			delete(l.clients, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Swept idle rate limit buckets", "count", removed)
	}
	return removed
}

// StartSweeper runs periodic sweeps until ctx is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(l.sweepEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}
