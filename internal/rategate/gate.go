// Package rategate implements local admission control that approximates
// venue-imposed request quotas.
package rategate

import (
	"sync"
	"time"
)

const window = time.Second

type bucket struct {
	count int
	start time.Time
}

// Gate tracks per-endpoint request counts in fixed one-second buckets. One
// gate instance is shared by every caller of the same venue adapter: the quota
// is venue-wide, not per-connection, so all concurrent requests contend on
// this state on purpose.
//
// This is an approximation, not a token bucket; the venue's true limit may be
// stricter. When a full window has already elapsed the counter resets to 1
// without accounting for requests sent earlier in the new window, which can
// under-count bursts at window boundaries.
type Gate struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	clock func() time.Time
	sleep func(time.Duration)
}

// New constructs an empty gate.
func New() *Gate {
	return &Gate{
		buckets: make(map[string]*bucket),
		clock:   time.Now,
		sleep:   time.Sleep,
	}
}

// NewWithClock constructs a gate with injected time functions for tests.
func NewWithClock(clock func() time.Time, sleep func(time.Duration)) *Gate {
	g := New()
	if clock != nil {
		g.clock = clock
	}
	if sleep != nil {
		g.sleep = sleep
	}
	return g
}

// Acquire admits one request for the endpoint key, suspending the caller when
// the current window is exhausted. There is no cancellation: once a caller
// begins waiting it completes the wait. Callers needing timeouts wrap this at
// a higher layer.
//
// The gate mutex is held across the suspension so that waiting callers drain
// strictly one window at a time, mirroring the venue-wide quota.
func (g *Gate) Acquire(endpointKey string, perSecond int) {
	if perSecond <= 0 {
		perSecond = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	b, ok := g.buckets[endpointKey]
	if !ok {
		g.buckets[endpointKey] = &bucket{count: 1, start: now}
		return
	}

	if b.count < perSecond {
		b.count++
		return
	}

	elapsed := now.Sub(b.start)
	if elapsed < window {
		g.sleep(window - elapsed)
	}
	b.count = 1
	b.start = g.clock()
}
