package lifecycle

import (
	"errors"
	"fmt"
)

// EventNotAllowedError is raised when an event fires from a state with no
// matching edge in the transition table.
type EventNotAllowedError struct {
	State State
	Event Event
}

func (e *EventNotAllowedError) Error() string {
	return fmt.Sprintf("event %q not allowed in state %q", e.Event, e.State)
}

// IsEventNotAllowed reports whether the error is an illegal-edge rejection.
// Uses errors.As to handle wrapped errors.
func IsEventNotAllowed(err error) bool {
	var ena *EventNotAllowedError
	return errors.As(err, &ena)
}

// StaleTransitionError is raised from the state-entry hook when the guarded
// UPDATE affects zero rows: another worker advanced the row between our read
// and our write.
type StaleTransitionError struct {
	Path            string
	ExpectedState   State
	ExpectedVersion int64
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition for %s: row no longer at (%s, v%d)",
		e.Path, e.ExpectedState, e.ExpectedVersion)
}

// IsStaleTransition reports whether the error is an OCC stale rejection.
func IsStaleTransition(err error) bool {
	var st *StaleTransitionError
	return errors.As(err, &st)
}
