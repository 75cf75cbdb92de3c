package transition

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/corpus/internal/lifecycle"
	"github.com/roach88/corpus/internal/store"
)

// Payload carries event-specific data into a transition: the columns the
// destination state persists and an optional post-commit side effect.
type Payload struct {
	Fields lifecycle.Fields

	// PostCommit runs inside the entry hook after the guarded update
	// commits. An error here yields OutcomeFailedPostcommit: the state is
	// already advanced and compensation is deferred to the next tick.
	PostCommit func(ctx context.Context) error
}

// Manager drives every lifecycle transition through the per-file lock, a
// fresh state read, an ephemeral machine, and the guarded OCC update.
type Manager struct {
	store  *store.Store
	locks  *LockManager
	logger *slog.Logger

	// precommitFault, when set, is invoked just before the guarded update.
	// Test seam for the pre-commit failure scenario.
	precommitFault func(path string, event lifecycle.Event) error
}

// NewManager creates a Manager over the given store.
func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		locks:  NewLockManager(),
		logger: logger,
	}
}

// Locks exposes the lock manager for tests.
func (m *Manager) Locks() *LockManager {
	return m.locks
}

// Transition drives one event for one file. The full algorithm:
//
//  1. Acquire the per-file lock.
//  2. Read (state, version) fresh from the store - never cached.
//  3. Reject immediately if the state disallows the event.
//  4. Build an ephemeral machine at the current state and activate it.
//  5. Trigger the event; the state-entry hook runs the guarded update:
//     rowcount 0 aborts as stale, rowcount 1 commits.
//  6. Classify errors by phase (guard / pre-commit / post-commit).
//  7. Release the lock.
//
// The returned error is non-nil only for the failure outcomes; rejections
// are normal control flow and return a nil error.
func (m *Manager) Transition(ctx context.Context, path string, event lifecycle.Event, payload Payload) (Outcome, error) {
	m.locks.Acquire(path)
	defer m.locks.Release(path)

	current, version, err := m.store.ReadState(ctx, path)
	if err != nil {
		return OutcomeFailedPrecommit, fmt.Errorf("transition %s: %w", event, err)
	}

	if !lifecycle.Allowed(current, event) {
		m.logger.Debug("transition rejected by guard",
			"path", path, "event", event, "state", current)
		return OutcomeRejectedGuard, nil
	}

	committed := false

	machine, err := lifecycle.NewMachine(current, m.guard, m.entryHook(path, version, payload, &committed))
	if err != nil {
		return OutcomeFailedPrecommit, fmt.Errorf("transition %s: %w", event, err)
	}
	if err := machine.Activate(ctx); err != nil {
		return OutcomeFailedPrecommit, fmt.Errorf("transition %s: %w", event, err)
	}

	tc := &lifecycle.TransitionContext{
		Path:            path,
		ExpectedVersion: version,
		Fields:          payload.Fields,
	}

	if err := machine.Trigger(ctx, event, tc); err != nil {
		switch {
		case lifecycle.IsEventNotAllowed(err):
			return OutcomeRejectedGuard, nil
		case lifecycle.IsStaleTransition(err):
			m.logger.Debug("transition rejected stale",
				"path", path, "event", event, "expected_version", version)
			return OutcomeRejectedStale, nil
		case committed:
			m.logger.Warn("post-commit failure; state already advanced",
				"path", path, "event", event, "error", err)
			return OutcomeFailedPostcommit, err
		default:
			return OutcomeFailedPrecommit, err
		}
	}

	m.logger.Debug("transition committed",
		"path", path, "event", event, "from", tc.From, "to", tc.To,
		"version", version+1)
	return OutcomeSuccess, nil
}

// guard is the shared read-only predicate. The edge table already vetoed
// illegal pairs; the guard re-checks that the durable row still exists and
// is active, without mutating anything.
func (m *Manager) guard(ctx context.Context, tc *lifecycle.TransitionContext) error {
	state, _, err := m.store.ReadState(ctx, tc.Path)
	if err != nil {
		return err
	}
	if state != tc.From {
		// Raced between the manager's read and the trigger. The guarded
		// update would reject this anyway; surface it as stale early.
		return &lifecycle.StaleTransitionError{
			Path:            tc.Path,
			ExpectedState:   tc.From,
			ExpectedVersion: tc.ExpectedVersion,
		}
	}
	return nil
}

// entryHook builds the state-entry hook for one transition. The hook
// tolerates nil transition context (initial-state activation is a no-op);
// otherwise it performs the guarded OCC update and the optional post-commit
// side effect, flagging committed so the caller can classify failures.
func (m *Manager) entryHook(path string, version int64, payload Payload, committed *bool) lifecycle.EntryHook {
	return func(ctx context.Context, state lifecycle.State, tc *lifecycle.TransitionContext) error {
		if tc == nil {
			return nil
		}

		if m.precommitFault != nil {
			if err := m.precommitFault(path, tc.Event); err != nil {
				return err
			}
		}

		affected, err := m.store.GuardedUpdate(ctx, path, tc.From, version, tc.To, tc.Fields)
		if err != nil {
			return fmt.Errorf("guarded update: %w", err)
		}
		if affected == 0 {
			return &lifecycle.StaleTransitionError{
				Path:            path,
				ExpectedState:   tc.From,
				ExpectedVersion: version,
			}
		}
		*committed = true

		if payload.PostCommit != nil {
			if err := payload.PostCommit(ctx); err != nil {
				return fmt.Errorf("post-commit: %w", err)
			}
		}
		return nil
	}
}
