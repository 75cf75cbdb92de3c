package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/corpus/internal/index"
	"github.com/roach88/corpus/internal/lifecycle"
	"github.com/roach88/corpus/internal/ratelimit"
	"github.com/roach88/corpus/internal/store"
	"github.com/roach88/corpus/internal/transition"
)

// ErrCreditPause signals a clean stop on credit exhaustion. The caller
// exits 0: the checkpoint marker carries the resume context and the state
// store already holds every file's position.
var ErrCreditPause = errors.New("ingestion paused: credits exhausted")

// ErrBreakerHalted signals that the circuit breaker tripped twice inside
// its window. This is an unrecoverable pipeline error.
var ErrBreakerHalted = errors.New("ingestion halted: circuit breaker tripped repeatedly")

// eligibleStates are the non-terminal states the feeder claims.
var eligibleStates = []lifecycle.State{
	lifecycle.StateUntracked,
	lifecycle.StateUploading,
	lifecycle.StateProcessing,
}

// Config parameterizes a Pool. Zero values take defaults.
type Config struct {
	Workers       int           // default 3
	ClaimBatch    int           // rows claimed per feeder pass, default 32
	IdleInterval  time.Duration // feeder sleep when nothing is eligible, default 500ms
	MaxTransient  int           // transient attempts per file before escalation, default 3
	UploadTokens  int           // token-cost estimate per upload, default 2000
	MarkerPath    string        // checkpoint marker location
	StoreID       string        // external store identifier recorded on upload
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = 32
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 500 * time.Millisecond
	}
	if c.MaxTransient <= 0 {
		c.MaxTransient = 3
	}
	if c.UploadTokens <= 0 {
		c.UploadTokens = 2000
	}
}

// Notifier receives user-visible pool lifecycle notices (credit pauses,
// breaker halts). The CLI wires the active session's error events here.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Pool is the bounded concurrent executor.
type Pool struct {
	store   *store.Store
	adapter index.Adapter
	manager *transition.Manager
	limiter *ratelimit.Limiter
	breaker *ratelimit.Breaker
	cfg     Config
	logger  *slog.Logger
	notify  Notifier

	mu         sync.Mutex
	inflight   map[string]bool
	transient  map[string]int  // transient failures per path
	postcommit map[string]bool // rows owed a fail_* drive on the next tick
	sidelined  map[string]bool // rows with no legal fail edge, skipped this run
	completed  int
	stopping   error // first pool-stopping error observed
}

// NewPool wires a Pool. limiter and breaker may be nil, in which case
// defaults are constructed.
func NewPool(
	st *store.Store,
	adapter index.Adapter,
	manager *transition.Manager,
	limiter *ratelimit.Limiter,
	breaker *ratelimit.Breaker,
	cfg Config,
	logger *slog.Logger,
	notify Notifier,
) *Pool {
	cfg.defaults()
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultQuotas)
	}
	if breaker == nil {
		breaker = ratelimit.NewBreaker(ratelimit.BreakerConfig{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:      st,
		adapter:    adapter,
		manager:    manager,
		limiter:    limiter,
		breaker:    breaker,
		cfg:        cfg,
		logger:     logger,
		notify:     notify,
		inflight:   make(map[string]bool),
		transient:  make(map[string]int),
		postcommit: make(map[string]bool),
		sidelined:  make(map[string]bool),
	}
}

// Completed reports how many files reached a terminal state this run.
func (p *Pool) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Run drives every eligible row to a terminal state, or stops early on
// credit exhaustion / breaker halt / context cancellation.
//
// On context cancellation workers finish their current transition, release
// their locks, and exit; in-flight remote operations are re-polled on the
// next run because upload is idempotent by content hash.
func (p *Pool) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan store.FileRecord)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer close(work)
		return p.feed(gctx, work)
	})

	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(gctx, worker, work)
		})
	}

	err := g.Wait()

	p.mu.Lock()
	stopping := p.stopping
	completed := p.completed
	p.mu.Unlock()

	if stopping != nil {
		err = stopping
	}

	if errors.Is(err, ErrCreditPause) {
		if markErr := p.writeStopMarker(ctx, "credit_exhausted", completed); markErr != nil {
			p.logger.Error("failed to write checkpoint marker", "error", markErr)
		}
		p.notifyFn(ctx, "index service credits exhausted; progress checkpointed, re-run to resume")
		return ErrCreditPause
	}
	if errors.Is(err, ErrBreakerHalted) {
		if markErr := p.writeStopMarker(ctx, "breaker_halted", completed); markErr != nil {
			p.logger.Error("failed to write checkpoint marker", "error", markErr)
		}
		return ErrBreakerHalted
	}
	if err != nil {
		// Includes context cancellation: the caller reports the interrupt
		// and the state store already holds every file's position.
		return err
	}

	if p.cfg.MarkerPath != "" {
		if clearErr := ClearMarker(p.cfg.MarkerPath); clearErr != nil {
			p.logger.Warn("failed to clear checkpoint marker", "error", clearErr)
		}
	}
	return nil
}

// feed claims eligible rows and fans them out until none remain.
func (p *Pool) feed(ctx context.Context, work chan<- store.FileRecord) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Sidelined rows stay eligible in the store, so widen the claim
		// window by their count to keep seeing past them.
		rows, err := p.store.ListEligible(ctx, eligibleStates, p.cfg.ClaimBatch+p.sidelinedCount())
		if err != nil {
			return fmt.Errorf("feeder: %w", err)
		}

		sent, claimable := 0, 0
		for _, row := range rows {
			if p.isSidelined(row.Path) {
				continue
			}
			claimable++
			if !p.claim(row.Path) {
				continue
			}
			select {
			case <-ctx.Done():
				p.release(row.Path)
				return ctx.Err()
			case work <- row:
				sent++
			}
		}

		if claimable == 0 && p.idle() {
			// Nothing workable and nothing in flight: the batch is done.
			return nil
		}
		if sent == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.IdleInterval):
			}
		}
	}
}

// work consumes claimed rows, one transition per claim.
func (p *Pool) work(ctx context.Context, id int, work <-chan store.FileRecord) error {
	for row := range work {
		err := p.handle(ctx, row)
		p.release(row.Path)
		if err != nil {
			p.mu.Lock()
			if p.stopping == nil {
				p.stopping = err
			}
			p.mu.Unlock()
			p.logger.Debug("worker stopping", "worker", id, "error", err)
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) claim(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[path] {
		return false
	}
	p.inflight[path] = true
	return true
}

func (p *Pool) release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, path)
}

func (p *Pool) sideline(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sidelined[path] = true
}

func (p *Pool) isSidelined(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sidelined[path]
}

func (p *Pool) sidelinedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sidelined)
}

func (p *Pool) idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight) == 0
}

func (p *Pool) writeStopMarker(ctx context.Context, reason string, completed int) error {
	if p.cfg.MarkerPath == "" {
		return nil
	}
	remaining := 0
	next := ""
	if rows, err := p.store.ListEligible(ctx, eligibleStates, 1); err == nil && len(rows) > 0 {
		next = rows[0].Path
	}
	if counts, err := p.store.CountByState(ctx); err == nil {
		for _, st := range eligibleStates {
			remaining += counts[st]
		}
	}
	return WriteMarker(p.cfg.MarkerPath, Marker{
		WrittenAt: time.Now().UTC(),
		Reason:    reason,
		Completed: completed,
		Remaining: remaining,
		NextPath:  next,
	})
}

// notify emits the user-visible pause notification.
func (p *Pool) notifyFn(ctx context.Context, msg string) {
	if p.notify != nil {
		p.notify.Notify(ctx, msg)
	}
}

// recordOutcome feeds the breaker and converts a halt into a pool stop.
// A paused breaker waits out the cool-down here, respecting cancellation.
func (p *Pool) recordOutcome(ctx context.Context, ok bool) error {
	switch p.breaker.Record(ok) {
	case ratelimit.BreakerHalted:
		return ErrBreakerHalted
	case ratelimit.BreakerPaused:
		wait := p.breaker.CooldownRemaining()
		p.logger.Warn("circuit breaker paused the pool", "cooldown", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// bump counts a transient failure and reports whether escalation to failed
// is warranted.
func (p *Pool) bump(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transient[path]++
	return p.transient[path] >= p.cfg.MaxTransient
}

func (p *Pool) clearTransient(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.transient, path)
}

func (p *Pool) markPostcommit(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postcommit[path] = true
}

func (p *Pool) takePostcommit(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.postcommit[path] {
		delete(p.postcommit, path)
		return true
	}
	return false
}

func (p *Pool) countCompleted() {
	p.mu.Lock()
	p.completed++
	p.mu.Unlock()
}
