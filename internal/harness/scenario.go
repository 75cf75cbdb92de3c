package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one ingestion conformance test.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Files is the corpus tree to seed, relative slash-separated paths.
	Files []SeedFile `yaml:"files"`

	// Faults are scripted upload failures, by 1-based upload ordinal.
	Faults []FaultSpec `yaml:"faults,omitempty"`

	// FailOperations scripts remote-side indexing failures for the
	// operations created by the named files.
	FailOperations []RemoteFailure `yaml:"fail_operations,omitempty"`

	// Mock shapes the adapter's async operation behavior.
	Mock MockSpec `yaml:"mock,omitempty"`

	// Pool overrides worker pool parameters. Zero values take defaults.
	Pool PoolSpec `yaml:"pool,omitempty"`

	// Breaker arms the circuit breaker. Omitted, the breaker is configured
	// so it cannot trip during the scenario.
	Breaker *BreakerSpec `yaml:"breaker,omitempty"`

	// Expect validates the run's stop condition and final states.
	Expect Expectation `yaml:"expect"`
}

// SeedFile is one corpus file to create before the run.
type SeedFile struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

// FaultSpec injects a classified fault on the nth upload call.
// Kind is the fault taxonomy name: TRANSIENT, RATE_LIMIT,
// CREDIT_EXHAUSTED, REJECT.
type FaultSpec struct {
	UploadOrdinal int    `yaml:"upload_ordinal"`
	Kind          string `yaml:"kind"`
}

// RemoteFailure marks a file's remote operation as failed, observed at the
// next poll.
type RemoteFailure struct {
	Path   string `yaml:"path"`
	Reason string `yaml:"reason"`
}

// MockSpec shapes the mock adapter.
type MockSpec struct {
	PollsUntilProcessing int   `yaml:"polls_until_processing,omitempty"`
	PollsUntilReady      int   `yaml:"polls_until_ready,omitempty"`
	Seed                 int64 `yaml:"seed,omitempty"`
}

// PoolSpec overrides pool parameters.
type PoolSpec struct {
	Workers      int `yaml:"workers,omitempty"`
	MaxTransient int `yaml:"max_transient,omitempty"`
}

// BreakerSpec arms the circuit breaker for a scenario.
type BreakerSpec struct {
	MinEvents  int     `yaml:"min_events"`
	Threshold  float64 `yaml:"threshold,omitempty"`
	WindowMS   int     `yaml:"window_ms,omitempty"`
	CooldownMS int     `yaml:"cooldown_ms,omitempty"`
}

// Expectation validates the run outcome.
type Expectation struct {
	// Stop names the expected stop condition: "" for a clean finish,
	// "credit_pause", or "breaker_halted".
	Stop string `yaml:"stop,omitempty"`

	// States maps seeded paths to their expected final lifecycle state.
	// Subset match: unlisted files are only checked by the invariant audit.
	States map[string]string `yaml:"states,omitempty"`

	// Uploads, when positive, is the exact number of upload calls the
	// adapter must have served.
	Uploads int `yaml:"uploads,omitempty"`
}

// Stop condition constants for Expectation.Stop.
const (
	StopClean         = ""
	StopCreditPause   = "credit_pause"
	StopBreakerHalted = "breaker_halted"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected to catch typos, and required fields are validated.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := scenario.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(s.Files) == 0 {
		return fmt.Errorf("no files to seed")
	}
	seen := make(map[string]bool, len(s.Files))
	for _, f := range s.Files {
		if f.Path == "" {
			return fmt.Errorf("file with empty path")
		}
		if seen[f.Path] {
			return fmt.Errorf("duplicate file path %q", f.Path)
		}
		seen[f.Path] = true
	}
	switch s.Expect.Stop {
	case StopClean, StopCreditPause, StopBreakerHalted:
	default:
		return fmt.Errorf("unknown stop condition %q", s.Expect.Stop)
	}
	for path := range s.Expect.States {
		if !seen[path] {
			return fmt.Errorf("expectation references unseeded path %q", path)
		}
	}
	for _, rf := range s.FailOperations {
		if !seen[rf.Path] {
			return fmt.Errorf("fail_operations references unseeded path %q", rf.Path)
		}
	}
	return nil
}
