package faults

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes a failure independent of the transport that produced it.
// Both the ingestion workers and the search pipeline branch on Kind, never
// on HTTP status codes or driver error strings.
type Kind string

const (
	// KindTransient covers timeouts, 5xx responses, and transient lock
	// contention. Retry with jittered exponential backoff, bounded attempts.
	KindTransient Kind = "TRANSIENT"

	// KindRateLimit is a 429-class response. Respect retry-after, reduce the
	// limiter rate, and return the work item to the queue.
	KindRateLimit Kind = "RATE_LIMIT"

	// KindCreditExhausted is a payment-required response. Checkpoint, pause
	// the pool, surface a user notification, exit cleanly.
	KindCreditExhausted Kind = "CREDIT_EXHAUSTED"

	// KindReject is a permanent failure: 4xx, schema validation, content
	// rejected. The file transition advances to failed.
	KindReject Kind = "REJECT"

	// KindGuardStale is an OCC rejection (rowcount=0). Logged and skipped;
	// another worker already advanced the row.
	KindGuardStale Kind = "GUARD_STALE"

	// KindIntegrity is a foreign-key or check-constraint violation. The
	// worker crash-fails: this signals data corruption, not a bad request.
	KindIntegrity Kind = "INTEGRITY_VIOLATION"
)

// Fault is a classified failure. Stage records which pipeline stage raised it
// so failed file rows carry a failure_stage tag.
type Fault struct {
	Kind       Kind
	Stage      string
	Message    string
	RetryAfter time.Duration // only meaningful for KindRateLimit
	Err        error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", f.Kind, f.Stage, f.Message, f.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", f.Kind, f.Stage, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a Fault with the given kind, stage, and message.
func New(kind Kind, stage, message string) *Fault {
	return &Fault{Kind: kind, Stage: stage, Message: message}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, stage string, err error) *Fault {
	return &Fault{Kind: kind, Stage: stage, Message: "wrapped", Err: err}
}

// KindOf extracts the Kind from an error chain.
// Unclassified errors are treated as transient: the caller retries a bounded
// number of times and escalates to Reject if the error persists.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}

// RetryAfterOf extracts the advertised retry-after from a rate-limit fault.
// Returns zero for everything else.
func RetryAfterOf(err error) time.Duration {
	var f *Fault
	if errors.As(err, &f) && f.Kind == KindRateLimit {
		return f.RetryAfter
	}
	return 0
}

// StageOf extracts the pipeline stage from an error chain, or "" if the error
// is not a Fault.
func StageOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Stage
	}
	return ""
}

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsRateLimit reports whether the error is a rate-limit rejection.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

// IsCreditExhausted reports whether the error is a billing rejection.
func IsCreditExhausted(err error) bool { return KindOf(err) == KindCreditExhausted }

// IsReject reports whether the error is permanent.
func IsReject(err error) bool { return KindOf(err) == KindReject }

// IsStale reports whether the error is an OCC stale rejection.
func IsStale(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == KindGuardStale
}

// IsIntegrity reports whether the error signals data corruption.
func IsIntegrity(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == KindIntegrity
}
