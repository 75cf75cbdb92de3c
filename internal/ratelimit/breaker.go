package ratelimit

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	// BreakerClosed: traffic flows normally.
	BreakerClosed BreakerState = "closed"
	// BreakerPaused: the rolling error rate tripped the threshold; the pool
	// waits out a cool-down before resuming.
	BreakerPaused BreakerState = "paused"
	// BreakerHalted: a second trip inside the trip window; the pool stops
	// and the session receives an error event.
	BreakerHalted BreakerState = "halted"
)

// Breaker trips when the rolling 1-minute error rate exceeds a threshold.
// One trip pauses for a cool-down; a second trip within the trip window
// halts the pool.
type Breaker struct {
	mu        sync.Mutex
	window    time.Duration // rolling observation window
	threshold float64       // error-rate trip threshold
	cooldown  time.Duration
	minEvents int // below this many observations the rate is noise

	state     BreakerState
	pausedAt  time.Time
	lastTrip  time.Time
	events    []breakerEvent
	now       func() time.Time
}

type breakerEvent struct {
	at time.Time
	ok bool
}

// BreakerConfig parameterizes a Breaker. Zero values take defaults.
type BreakerConfig struct {
	Window    time.Duration // default 1 minute
	Threshold float64       // default 0.05
	Cooldown  time.Duration // default 30 seconds
	MinEvents int           // default 10
	Now       func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.05
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MinEvents == 0 {
		cfg.MinEvents = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		window:    cfg.Window,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		minEvents: cfg.MinEvents,
		state:     BreakerClosed,
		now:       cfg.Now,
	}
}

// Record observes one request outcome and returns the resulting state.
func (b *Breaker) Record(ok bool) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.now()
	b.events = append(b.events, breakerEvent{at: t, ok: ok})
	b.prune(t)

	if b.state == BreakerHalted {
		return b.state
	}

	if b.state == BreakerPaused && t.Sub(b.pausedAt) >= b.cooldown {
		b.state = BreakerClosed
	}

	if len(b.events) < b.minEvents {
		return b.state
	}

	failures := 0
	for _, e := range b.events {
		if !e.ok {
			failures++
		}
	}
	rate := float64(failures) / float64(len(b.events))
	if rate <= b.threshold {
		return b.state
	}

	// Tripped. A second trip within the window halts.
	if !b.lastTrip.IsZero() && t.Sub(b.lastTrip) <= b.window {
		b.state = BreakerHalted
	} else {
		b.state = BreakerPaused
		b.pausedAt = t
	}
	b.lastTrip = t
	b.events = b.events[:0]
	return b.state
}

// State returns the current position, promoting paused to closed once the
// cool-down has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerPaused && b.now().Sub(b.pausedAt) >= b.cooldown {
		b.state = BreakerClosed
	}
	return b.state
}

// CooldownRemaining reports how long a paused breaker stays paused.
func (b *Breaker) CooldownRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerPaused {
		return 0
	}
	if d := b.cooldown - b.now().Sub(b.pausedAt); d > 0 {
		return d
	}
	return 0
}

// prune drops observations older than the rolling window. Caller holds mu.
func (b *Breaker) prune(t time.Time) {
	cut := 0
	for cut < len(b.events) && t.Sub(b.events[cut].at) > b.window {
		cut++
	}
	if cut > 0 {
		b.events = append(b.events[:0], b.events[cut:]...)
	}
}
