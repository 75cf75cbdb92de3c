package harness

import "fmt"

// Check evaluates a scenario's expectations against a run result. Returns
// one error string per failed expectation; empty means the scenario passed.
//
// Invariant violations always fail the scenario, whether or not the
// expectation block mentions them: no injected fault is allowed to corrupt
// the state store.
func Check(scenario *Scenario, result *Result) []string {
	var failures []string

	if result.Stop != scenario.Expect.Stop {
		failures = append(failures, fmt.Sprintf(
			"stop condition: got %q, want %q", result.Stop, scenario.Expect.Stop))
	}

	for path, want := range scenario.Expect.States {
		got, ok := result.States[path]
		if !ok {
			failures = append(failures, fmt.Sprintf("no final state recorded for %s", path))
			continue
		}
		if got.State != want {
			failures = append(failures, fmt.Sprintf(
				"%s: state %q, want %q", path, got.State, want))
		}
	}

	if scenario.Expect.Uploads > 0 && result.Uploads != scenario.Expect.Uploads {
		failures = append(failures, fmt.Sprintf(
			"uploads: got %d, want %d", result.Uploads, scenario.Expect.Uploads))
	}

	for _, v := range result.Violations {
		failures = append(failures, "invariant violation: "+v)
	}

	return failures
}
