package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpus/internal/testutil"
)

func TestLimiter_BurstWithinQuota(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(Quotas{RequestsPerMinute: 10, TokensPerMinute: 10000, RequestsPerDay: 100},
		WithClock(clock.Now))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx, 100), "request %d within quota", i)
	}
}

func TestLimiter_BlocksWhenExhausted(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(Quotas{RequestsPerMinute: 2, TokensPerMinute: 10000, RequestsPerDay: 100},
		WithClock(clock.Now))

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, 1))
	require.NoError(t, l.Acquire(ctx, 1))

	// Third request must wait for refill; a cancelled context surfaces.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := l.Acquire(cancelled, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiter_RefillsWithTime(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(Quotas{RequestsPerMinute: 60, TokensPerMinute: 60000, RequestsPerDay: 1000},
		WithClock(clock.Now))

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, l.Acquire(ctx, 1))
	}

	// A minute later the full burst is available again.
	clock.Advance(time.Minute)
	for i := 0; i < 60; i++ {
		require.NoError(t, l.Acquire(ctx, 1))
	}
}

func TestLimiter_OnRateLimitedHalvesScale(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(DefaultQuotas, WithClock(clock.Now))

	assert.InDelta(t, 1.0, l.Scale(), 1e-9)
	l.OnRateLimited(0)
	assert.InDelta(t, 0.5, l.Scale(), 1e-9)
	l.OnRateLimited(0)
	assert.InDelta(t, 0.25, l.Scale(), 1e-9)
}

func TestLimiter_ScaleFloorsAtFivePercent(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(DefaultQuotas, WithClock(clock.Now))

	for i := 0; i < 20; i++ {
		l.OnRateLimited(0)
	}
	assert.InDelta(t, 0.05, l.Scale(), 1e-9)
}

func TestLimiter_OnSuccessRecoversLinearly(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(DefaultQuotas, WithClock(clock.Now))

	l.OnRateLimited(0)
	require.InDelta(t, 0.5, l.Scale(), 1e-9)

	for i := 0; i < 5; i++ {
		l.OnSuccess()
	}
	assert.InDelta(t, 0.6, l.Scale(), 1e-9)

	for i := 0; i < 100; i++ {
		l.OnSuccess()
	}
	assert.InDelta(t, 1.0, l.Scale(), 1e-9, "recovery caps at the ceiling")
}

func TestLimiter_HonorsRetryAfterPenalty(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(DefaultQuotas, WithClock(clock.Now))

	l.OnRateLimited(30 * time.Second)

	// During the penalty window even an otherwise-available request waits;
	// with a cancelled context that wait surfaces immediately.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(cancelled, 1)
	assert.ErrorIs(t, err, context.Canceled)

	// After the advertised window the penalty is gone.
	clock.Advance(31 * time.Second)
	assert.NoError(t, l.Acquire(context.Background(), 1))
}

func TestLimiter_GatedAttemptRefundsOtherBuckets(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(Quotas{RequestsPerMinute: 10, TokensPerMinute: 100, RequestsPerDay: 1000},
		WithClock(clock.Now))

	// An oversized request gates on the token quota. With a frozen clock no
	// refill happens, so repeated gated attempts would drain the request
	// buckets if the deduction were not refunded.
	for i := 0; i < 5; i++ {
		assert.Greater(t, l.tryTake(1_000), time.Duration(0))
	}

	// The full per-minute request burst is still available.
	for i := 0; i < 10; i++ {
		assert.Zero(t, l.tryTake(1), "request %d must pass: gated attempts charge nothing", i)
	}
	assert.Greater(t, l.tryTake(1), time.Duration(0), "the eleventh gates on rpm")
}

func TestLimiter_CustomBackoffFactor(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := NewLimiter(DefaultQuotas, WithClock(clock.Now), WithBackoffFactor(0.9))

	l.OnRateLimited(0)
	assert.InDelta(t, 0.9, l.Scale(), 1e-9)
}
