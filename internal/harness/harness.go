package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/corpus/internal/faults"
	"github.com/roach88/corpus/internal/index"
	"github.com/roach88/corpus/internal/ingest"
	"github.com/roach88/corpus/internal/ratelimit"
	"github.com/roach88/corpus/internal/scanner"
	"github.com/roach88/corpus/internal/store"
	"github.com/roach88/corpus/internal/transition"
)

// runTimeout bounds a single scenario execution.
const runTimeout = 30 * time.Second

// Result captures a scenario run for assertion and golden comparison.
type Result struct {
	ScenarioName string

	// Stop is the observed stop condition, same vocabulary as
	// Expectation.Stop.
	Stop string

	// States maps seeded relative paths to their final active-row snapshot.
	States map[string]FileState

	// Uploads is the number of Upload calls the mock served.
	Uploads int

	// Violations are structural invariant failures found by the post-run
	// audit. A correct pipeline produces none, whatever faults were
	// injected.
	Violations []string
}

// FileState is the assertable slice of one file row.
type FileState struct {
	State        string `json:"state"`
	Version      int64  `json:"version"`
	HasOperation bool   `json:"has_operation"`
	HasFileID    bool   `json:"has_file_id"`
	LastError    string `json:"last_error,omitempty"`
	FailureStage string `json:"failure_stage,omitempty"`
}

// Run executes a scenario: seed corpus, scan, ingest to quiescence, audit.
//
// Each scenario runs against a fresh in-memory database and its own
// temporary corpus directory. The rate limiter is configured so generously
// that it never gates a test run; limiter behavior has its own unit tests.
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	root, err := os.MkdirTemp("", "harness-corpus-")
	if err != nil {
		return nil, fmt.Errorf("create corpus dir: %w", err)
	}
	defer os.RemoveAll(root)

	remoteFailures := make(map[string]string)
	for _, seed := range scenario.Files {
		path := filepath.Join(root, filepath.FromSlash(seed.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("seed %s: %w", seed.Path, err)
		}
		if err := os.WriteFile(path, []byte(seed.Content), 0o644); err != nil {
			return nil, fmt.Errorf("seed %s: %w", seed.Path, err)
		}
	}
	for _, rf := range scenario.FailOperations {
		remoteFailures[contentHash(scenario, rf.Path)] = rf.Reason
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sc := scanner.New(st, scanner.DefaultConventions, logger)
	if _, err := sc.Scan(ctx, root); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	mock := index.NewMock(index.MockConfig{
		Profile:              index.LatencyZero,
		Seed:                 scenario.Mock.Seed,
		PollsUntilProcessing: scenario.Mock.PollsUntilProcessing,
		PollsUntilReady:      scenario.Mock.PollsUntilReady,
		Faults:               scriptedFaults(scenario.Faults),
		RemoteFailures:       remoteFailures,
	})

	limiter := ratelimit.NewLimiter(ratelimit.Quotas{
		RequestsPerMinute: 1_000_000,
		TokensPerMinute:   1_000_000_000,
		RequestsPerDay:    1_000_000,
	})
	// Disarmed by default; breaker mechanics have dedicated unit tests.
	breakerCfg := ratelimit.BreakerConfig{MinEvents: 10_000, Cooldown: time.Millisecond}
	if b := scenario.Breaker; b != nil {
		breakerCfg = ratelimit.BreakerConfig{
			MinEvents: b.MinEvents,
			Threshold: b.Threshold,
			Window:    time.Duration(b.WindowMS) * time.Millisecond,
			Cooldown:  time.Duration(b.CooldownMS) * time.Millisecond,
		}
	}
	breaker := ratelimit.NewBreaker(breakerCfg)

	pool := ingest.NewPool(st, mock, transition.NewManager(st, logger), limiter, breaker, ingest.Config{
		Workers:      scenario.Pool.Workers,
		MaxTransient: scenario.Pool.MaxTransient,
		IdleInterval: 10 * time.Millisecond,
		UploadTokens: 1,
		MarkerPath:   filepath.Join(root, "checkpoint.json"),
		StoreID:      "harness",
	}, logger, nil)

	result := &Result{
		ScenarioName: scenario.Name,
		States:       make(map[string]FileState, len(scenario.Files)),
	}

	switch err := pool.Run(ctx); {
	case err == nil:
		result.Stop = StopClean
	case errors.Is(err, ingest.ErrCreditPause):
		result.Stop = StopCreditPause
	case errors.Is(err, ingest.ErrBreakerHalted):
		result.Stop = StopBreakerHalted
	default:
		return nil, fmt.Errorf("pool: %w", err)
	}

	result.Uploads = mock.Uploads()

	for _, seed := range scenario.Files {
		abs := filepath.Join(root, filepath.FromSlash(seed.Path))
		row, err := st.ReadFile(ctx, abs)
		if err != nil {
			return nil, fmt.Errorf("read final state of %s: %w", seed.Path, err)
		}
		result.States[seed.Path] = FileState{
			State:        string(row.State),
			Version:      row.Version,
			HasOperation: row.OperationID.Valid,
			HasFileID:    row.ExternalFileID.Valid,
			LastError:    row.LastError.String,
			FailureStage: row.FailureStage.String,
		}
	}

	violations, err := st.FileInvariants(ctx)
	if err != nil {
		return nil, fmt.Errorf("invariant audit: %w", err)
	}
	for _, v := range violations {
		rel, relErr := filepath.Rel(root, v.Path)
		if relErr != nil {
			rel = v.Path
		}
		result.Violations = append(result.Violations, fmt.Sprintf("%s: %s", filepath.ToSlash(rel), v.Detail))
	}

	return result, nil
}

// scriptedFaults maps the YAML fault specs to the mock's fault scripts.
func scriptedFaults(specs []FaultSpec) []index.FaultScript {
	out := make([]index.FaultScript, 0, len(specs))
	for _, f := range specs {
		out = append(out, index.FaultScript{
			UploadOrdinal: f.UploadOrdinal,
			Kind:          faults.Kind(f.Kind),
		})
	}
	return out
}

// contentHash returns the seeded content's hash for path, matching the
// mock's upload idempotency key.
func contentHash(scenario *Scenario, path string) string {
	for _, seed := range scenario.Files {
		if seed.Path == path {
			sum := sha256.Sum256([]byte(seed.Content))
			return hex.EncodeToString(sum[:])
		}
	}
	return ""
}
