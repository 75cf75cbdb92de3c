package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// snapshot is the serialized form compared against golden files. Map keys
// marshal sorted, so the encoding is canonical.
type snapshot struct {
	ScenarioName string               `json:"scenario_name"`
	Stop         string               `json:"stop"`
	Uploads      int                  `json:"uploads"`
	States       map[string]FileState `json:"states"`
	Violations   []string             `json:"violations,omitempty"`
}

// RunWithGolden executes a scenario and compares the outcome snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares an already-obtained result against its golden file.
func AssertGolden(t *testing.T, result *Result) error {
	t.Helper()

	out, err := json.MarshalIndent(snapshot{
		ScenarioName: result.ScenarioName,
		Stop:         result.Stop,
		Uploads:      result.Uploads,
		States:       result.States,
		Violations:   result.Violations,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.ScenarioName, out)
	return nil
}
