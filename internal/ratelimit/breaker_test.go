package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpus/internal/testutil"
)

func newTestBreaker(clock *testutil.FakeClock) *Breaker {
	return NewBreaker(BreakerConfig{
		Window:    time.Minute,
		Threshold: 0.05,
		Cooldown:  30 * time.Second,
		MinEvents: 10,
		Now:       clock.Now,
	})
}

func TestBreaker_StaysClosedBelowMinEvents(t *testing.T) {
	clock := testutil.NewFakeClock()
	b := newTestBreaker(clock)

	// All failures, but too few observations to be signal.
	for i := 0; i < 9; i++ {
		assert.Equal(t, BreakerClosed, b.Record(false))
	}
}

func TestBreaker_StaysClosedUnderThreshold(t *testing.T) {
	clock := testutil.NewFakeClock()
	b := newTestBreaker(clock)

	// 1 failure in 100 = 1% error rate, under the 5% threshold.
	b.Record(false)
	for i := 0; i < 99; i++ {
		assert.Equal(t, BreakerClosed, b.Record(true))
	}
}

func TestBreaker_FirstTripPauses(t *testing.T) {
	clock := testutil.NewFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 9; i++ {
		b.Record(true)
	}
	state := b.Record(false) // 1/10 = 10% > 5%
	assert.Equal(t, BreakerPaused, state)
	assert.Equal(t, 30*time.Second, b.CooldownRemaining())
}

func TestBreaker_CooldownReopens(t *testing.T) {
	clock := testutil.NewFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 9; i++ {
		b.Record(true)
	}
	require.Equal(t, BreakerPaused, b.Record(false))

	clock.Advance(31 * time.Second)
	assert.Equal(t, BreakerClosed, b.State())
	assert.Zero(t, b.CooldownRemaining())
}

func TestBreaker_SecondTripWithinWindowHalts(t *testing.T) {
	clock := testutil.NewFakeClock()
	b := newTestBreaker(clock)

	trip := func() BreakerState {
		var state BreakerState
		for i := 0; i < 9; i++ {
			state = b.Record(true)
		}
		return state
	}

	trip()
	require.Equal(t, BreakerPaused, b.Record(false))

	// Wait out the cool-down, then trip again inside the window.
	clock.Advance(31 * time.Second)
	trip()
	state := b.Record(false)
	assert.Equal(t, BreakerHalted, state)

	// Halted is terminal for the run.
	assert.Equal(t, BreakerHalted, b.Record(true))
	assert.Equal(t, BreakerHalted, b.State())
}

func TestBreaker_TripsResetOutsideWindow(t *testing.T) {
	clock := testutil.NewFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 9; i++ {
		b.Record(true)
	}
	require.Equal(t, BreakerPaused, b.Record(false))

	// Well past the trip window: the next trip pauses again, not halts.
	clock.Advance(2 * time.Minute)
	for i := 0; i < 9; i++ {
		b.Record(true)
	}
	assert.Equal(t, BreakerPaused, b.Record(false))
}

func TestBreaker_OldEventsPruned(t *testing.T) {
	clock := testutil.NewFakeClock()
	b := newTestBreaker(clock)

	// A burst of failures that ages out of the window before enough
	// fresh successes arrive to evaluate the rate.
	for i := 0; i < 9; i++ {
		b.Record(false)
	}
	clock.Advance(2 * time.Minute)
	for i := 0; i < 10; i++ {
		assert.Equal(t, BreakerClosed, b.Record(true))
	}
}
