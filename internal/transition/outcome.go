package transition

// Outcome classifies one Transition call by the phase that decided it.
type Outcome string

const (
	// OutcomeSuccess: the guarded update committed with rowcount 1.
	OutcomeSuccess Outcome = "success"

	// OutcomeRejectedStale: the guarded update affected zero rows - another
	// worker advanced the row between our read and our write. Not an error;
	// the caller moves on.
	OutcomeRejectedStale Outcome = "rejected_stale"

	// OutcomeRejectedGuard: the current state disallows the event, or a
	// guard predicate vetoed it. State unchanged.
	OutcomeRejectedGuard Outcome = "rejected_guard"

	// OutcomeFailedPrecommit: an error was raised before the update
	// committed. State unchanged; the row stays where it was.
	OutcomeFailedPrecommit Outcome = "failed_precommit"

	// OutcomeFailedPostcommit: the update committed, then a post-commit side
	// effect raised. State is already advanced; a subsequent tick drives the
	// row to failed with a diagnostic.
	OutcomeFailedPostcommit Outcome = "failed_postcommit"
)
