package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket refilled continuously at rate/period. Capacity
// equals the quota so a full idle period can be spent in a burst, which is
// how the remote's per-minute windows behave in practice.
type bucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	rate     float64 // tokens per second at the configured ceiling
	scale    float64 // adaptive multiplier in (0, 1]
	last     time.Time
	now      func() time.Time
}

func newBucket(quota int, period time.Duration, now func() time.Time) *bucket {
	if now == nil {
		now = time.Now
	}
	return &bucket{
		capacity: float64(quota),
		tokens:   float64(quota),
		rate:     float64(quota) / period.Seconds(),
		scale:    1.0,
		last:     now(),
		now:      now,
	}
}

// refill credits tokens for elapsed time at the scaled rate.
// Caller holds mu.
func (b *bucket) refill() {
	t := b.now()
	elapsed := t.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate * b.scale
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = t
	}
}

// take removes n tokens if available and returns zero. Otherwise it returns
// how long until n tokens will have accrued.
func (b *bucket) take(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return 0
	}
	deficit := n - b.tokens
	effective := b.rate * b.scale
	if effective <= 0 {
		effective = b.rate
	}
	return time.Duration(deficit / effective * float64(time.Second))
}

// give refunds tokens taken by an attempt that a later quota gated.
func (b *bucket) give(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// setScale clamps and applies the adaptive multiplier.
func (b *bucket) setScale(s float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s < 0.05 {
		s = 0.05
	}
	if s > 1.0 {
		s = 1.0
	}
	b.scale = s
}

func (b *bucket) getScale() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scale
}
