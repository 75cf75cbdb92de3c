package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/corpus/internal/faults"
)

// Busy-retry policy for write paths. The busy_timeout pragma handles most
// contention; this wrapper covers the SQLITE_BUSY that still escapes it
// (e.g. a writer holding the lock past the timeout).
const (
	busyRetryAttempts = 3
	busyRetryBase     = 50 * time.Millisecond
)

// isBusy reports whether the error is SQLite lock contention.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// isConstraint reports whether the error is a constraint violation
// (foreign key, CHECK, NOT NULL). These are never retried: they signal
// data corruption or a buggy caller.
func isConstraint(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

// withBusyRetry runs fn, retrying on lock contention with bounded
// exponential backoff: up to 3 attempts, starting at 50ms, doubling.
// After exhaustion the last error propagates. Constraint violations are
// classified as integrity faults so callers crash-fail instead of retrying.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := busyRetryBase
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if isConstraint(err) {
			return faults.Wrap(faults.KindIntegrity, "store", err)
		}
		if !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("busy retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("busy retry exhausted: %w", err)
}
