package lifecycle

import (
	"context"
	"fmt"
)

// TransitionContext carries everything a guard or entry hook needs for one
// transition: the file identity, the caller-verified expected version, and
// the fields the destination state should persist.
//
// Guards receive it read-only. The entry hook receives it exactly once per
// trigger; during initial-state activation the hook is invoked with a nil
// context and must no-op.
type TransitionContext struct {
	Path            string
	Event           Event
	From            State
	To              State
	ExpectedVersion int64

	// Fields applied by the guarded UPDATE alongside the state change.
	Fields Fields
}

// Fields are the event-specific columns written with a transition.
// Nil pointers leave the column untouched.
type Fields struct {
	OperationID    *string
	ExternalFileID *string
	ExternalStore  *string
	LastError      *string
	FailureStage   *string
}

// Guard is an async predicate evaluated before the state change. Guards may
// read the store; they must not mutate. A non-nil error vetoes the
// transition.
type Guard func(ctx context.Context, tc *TransitionContext) error

// EntryHook runs on entry to a state. This is where the durable write
// happens. A nil TransitionContext signals initial-state activation, which
// performs no write.
type EntryHook func(ctx context.Context, state State, tc *TransitionContext) error

// Machine is an ephemeral FSM instance. Construct one per transition from
// the state value read fresh from the database; discard it afterwards.
//
// The in-memory current state is a cache of the durable row, never
// authoritative. The only public operation besides activation is Trigger.
type Machine struct {
	current   State
	activated bool
	guard     Guard
	onEnter   EntryHook
}

// NewMachine builds a machine positioned at current. guard and onEnter may
// be nil (no guard; no side effects), which is only useful in tests.
func NewMachine(current State, guard Guard, onEnter EntryHook) (*Machine, error) {
	if !current.Valid() {
		return nil, fmt.Errorf("new machine: invalid state %q", current)
	}
	return &Machine{current: current, guard: guard, onEnter: onEnter}, nil
}

// Current returns the machine's cached state.
func (m *Machine) Current() State {
	return m.current
}

// Activate explicitly enters the initial state, invoking the entry hook with
// a nil transition context. Required before Trigger.
func (m *Machine) Activate(ctx context.Context) error {
	if m.activated {
		return nil
	}
	if m.onEnter != nil {
		if err := m.onEnter(ctx, m.current, nil); err != nil {
			return fmt.Errorf("activate %s: %w", m.current, err)
		}
	}
	m.activated = true
	return nil
}

// Trigger fires event with the given transition context. Phases, in order:
//
//  1. Edge validation - illegal pairs raise EventNotAllowedError.
//  2. Guard - a raising guard vetoes the transition, state unchanged.
//  3. Entry hook - performs the guarded durable write. Errors propagate to
//     the caller, which classifies them by phase.
//
// On entry-hook failure the cached state is NOT rolled back; callers must
// discard the machine and re-read durable state, per the ephemeral contract.
func (m *Machine) Trigger(ctx context.Context, event Event, tc *TransitionContext) error {
	if !m.activated {
		return fmt.Errorf("trigger %s: machine not activated", event)
	}
	if tc == nil {
		return fmt.Errorf("trigger %s: nil transition context", event)
	}

	to, ok := Target(m.current, event)
	if !ok {
		return &EventNotAllowedError{State: m.current, Event: event}
	}

	tc.Event = event
	tc.From = m.current
	tc.To = to

	if m.guard != nil {
		if err := m.guard(ctx, tc); err != nil {
			return fmt.Errorf("guard for %s: %w", event, err)
		}
	}

	m.current = to

	if m.onEnter != nil {
		if err := m.onEnter(ctx, to, tc); err != nil {
			return err
		}
	}

	return nil
}
