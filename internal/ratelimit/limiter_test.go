package ratelimit

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/config"
)

// testClock is a manually advanced clock shared by a limiter under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(perMinute, perHour, burst int) (*Limiter, *testClock) {
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(config.RateLimitConfig{
		RequestsPerMinute: perMinute,
		RequestsPerHour:   perHour,
		BurstSize:         burst,
		SweepEvery:        time.Minute,
		IdleThreshold:     30 * time.Minute,
	})
	l.now = clock.Now
	l.global = newBucket(float64(perHour), float64(perHour)/3600, burst, clock.Now())
	return l, clock
}

func TestCheckConsumesExactlyOneTokenPerCall(t *testing.T) {
	l, _ := newTestLimiter(5, 1000, 0)

	for i := 0; i < 5; i++ {
		if !l.Check("alice") {
			t.Fatalf("check %d should be admitted", i)
		}
	}

	b := l.clients["alice"]
	if b.tokens != 0 {
		t.Errorf("expected 0 tokens after 5 checks, got %v", b.tokens)
	}

	if l.Check("alice") {
		t.Error("sixth check with no elapsed time should be denied")
	}
	if b.tokens < 0 {
		t.Errorf("tokens went negative: %v", b.tokens)
	}
}

func TestRetryAfterZeroIffCheckWouldSucceed(t *testing.T) {
	l, clock := newTestLimiter(2, 1000, 0)

	if got := l.RetryAfter("bob"); got != 0 {
		t.Errorf("fresh client should have retry_after 0, got %d", got)
	}

	l.Check("bob")
	l.Check("bob")

	if got := l.RetryAfter("bob"); got == 0 {
		t.Error("exhausted client should have retry_after > 0")
	}

	// Refill rate is 2/60 tokens per second; 30s restores one token.
	clock.Advance(30 * time.Second)
	if got := l.RetryAfter("bob"); got != 0 {
		t.Errorf("after refill retry_after should be 0, got %d", got)
	}
	if !l.Check("bob") {
		t.Error("check should succeed once retry_after reports 0")
	}
}

func TestGlobalExhaustionRefundsClientToken(t *testing.T) {
	l, _ := newTestLimiter(10, 2, 0)

	if !l.Check("carol") || !l.Check("carol") {
		t.Fatal("first two checks should pass both buckets")
	}

	// Global is now empty; the client bucket still has budget.
	before := l.clients["carol"].tokens
	if l.Check("carol") {
		t.Fatal("check should fail once the global bucket is exhausted")
	}
	after := l.clients["carol"].tokens
	if after != before {
		t.Errorf("refund not exact: before=%v after=%v", before, after)
	}
}

func TestLazyRefillRespectsCapacityPlusBurst(t *testing.T) {
	l, clock := newTestLimiter(10, 1000, 3)

	l.Check("dave")
	clock.Advance(24 * time.Hour)
	l.Check("dave")

	b := l.clients["dave"]
	if max := b.capacity + b.burst; b.tokens > max {
		t.Errorf("tokens %v exceed capacity+burst %v", b.tokens, max)
	}
}

func TestSweepRemovesOnlyIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(10, 1000, 0)

	l.Check("idle")
	clock.Advance(31 * time.Minute)
	l.Check("active")

	removed := l.Sweep()
	if removed != 1 {
		t.Fatalf("expected 1 bucket swept, got %d", removed)
	}
	if _, ok := l.clients["idle"]; ok {
		t.Error("idle bucket should be gone")
	}
	if _, ok := l.clients["active"]; !ok {
		t.Error("active bucket should survive the sweep")
	}
}

func TestConcurrentChecksForDistinctClients(t *testing.T) {
	l, _ := newTestLimiter(1000, 100000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "client-" + strconv.Itoa(n)
			for j := 0; j < 100; j++ {
				l.Check(id)
				l.RetryAfter(id)
			}
		}(i)
	}
	wg.Wait()
}
