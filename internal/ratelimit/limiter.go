package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Quotas are the remote service's advertised limits.
type Quotas struct {
	RequestsPerMinute int
	TokensPerMinute   int
	RequestsPerDay    int
}

// DefaultQuotas match the index service's documented free-tier limits.
var DefaultQuotas = Quotas{
	RequestsPerMinute: 60,
	TokensPerMinute:   250000,
	RequestsPerDay:    2000,
}

// Limiter gates requests on the minimum of three token buckets and adapts
// to rate-limit responses from the remote.
type Limiter struct {
	rpm *bucket
	tpm *bucket
	rpd *bucket

	mu         sync.Mutex
	backoff    float64       // multiplier applied on each rate-limit response
	recovery   float64       // linear scale recovery per successful request
	penaltyEnd time.Time     // honor advertised retry-after until this instant
	now        func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithBackoffFactor sets the multiplicative rate cut applied on a
// rate-limit response. Default 0.5.
func WithBackoffFactor(f float64) Option {
	return func(l *Limiter) { l.backoff = f }
}

// NewLimiter creates a limiter for the given quotas.
func NewLimiter(q Quotas, opts ...Option) *Limiter {
	l := &Limiter{
		backoff:  0.5,
		recovery: 0.02,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.rpm = newBucket(q.RequestsPerMinute, time.Minute, l.now)
	l.tpm = newBucket(q.TokensPerMinute, time.Minute, l.now)
	l.rpd = newBucket(q.RequestsPerDay, 24*time.Hour, l.now)
	return l
}

// Acquire blocks until one request carrying approximately tokens content
// tokens may proceed, or ctx is cancelled. A request is gated on all three
// quotas simultaneously and charged against all three or none.
func (l *Limiter) Acquire(ctx context.Context, tokens int) error {
	for {
		wait := l.penalty()
		if wait == 0 {
			wait = l.tryTake(tokens)
		}
		if wait == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// tryTake deducts from every bucket or from none: when a later quota gates
// the attempt, the earlier deductions are refunded so waiting on one quota
// never burns down the others. Returns zero on success, otherwise the time
// until the gating bucket can serve the request.
func (l *Limiter) tryTake(tokens int) time.Duration {
	takes := []struct {
		b *bucket
		n float64
	}{
		{l.rpm, 1},
		{l.tpm, float64(tokens)},
		{l.rpd, 1},
	}
	for i, t := range takes {
		if w := t.b.take(t.n); w > 0 {
			for _, held := range takes[:i] {
				held.b.give(held.n)
			}
			return w
		}
	}
	return 0
}

// penalty returns the remaining advertised retry-after window, if any.
func (l *Limiter) penalty() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d := l.penaltyEnd.Sub(l.now()); d > 0 {
		return d
	}
	return 0
}

// OnRateLimited records a 429-class response: honor the advertised
// retry-after and cut the allowed rate by the backoff factor.
func (l *Limiter) OnRateLimited(retryAfter time.Duration) {
	l.mu.Lock()
	if retryAfter > 0 {
		end := l.now().Add(retryAfter)
		if end.After(l.penaltyEnd) {
			l.penaltyEnd = end
		}
	}
	l.mu.Unlock()

	for _, b := range []*bucket{l.rpm, l.tpm, l.rpd} {
		b.setScale(b.getScale() * l.backoff)
	}
}

// OnSuccess records a successful request; the allowed rate recovers
// linearly toward the configured ceiling.
func (l *Limiter) OnSuccess() {
	for _, b := range []*bucket{l.rpm, l.tpm, l.rpd} {
		b.setScale(b.getScale() + l.recovery)
	}
}

// Scale reports the current adaptive multiplier of the per-minute request
// bucket. Used for logging and tests.
func (l *Limiter) Scale() float64 {
	return l.rpm.getScale()
}
