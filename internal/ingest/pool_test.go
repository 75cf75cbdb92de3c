package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpus/internal/faults"
	"github.com/roach88/corpus/internal/index"
	"github.com/roach88/corpus/internal/lifecycle"
	"github.com/roach88/corpus/internal/ratelimit"
	"github.com/roach88/corpus/internal/store"
	"github.com/roach88/corpus/internal/transition"
)

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// seedIngestFile writes a real file and registers it as untracked.
func seedIngestFile(t *testing.T, st *store.Store, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err := st.DiscoverOrUpdate(context.Background(), path, contentHash(content), 1000, "{}")
	require.NoError(t, err)
	return path
}

// newTestPool wires a pool against a generous limiter and, unless the test
// supplies its own, a breaker that cannot trip.
func newTestPool(t *testing.T, st *store.Store, adapter index.Adapter, breaker *ratelimit.Breaker, cfg Config) *Pool {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewLimiter(ratelimit.Quotas{
		RequestsPerMinute: 1_000_000,
		TokensPerMinute:   1_000_000_000,
		RequestsPerDay:    10_000_000,
	})
	if breaker == nil {
		breaker = ratelimit.NewBreaker(ratelimit.BreakerConfig{
			Window:    time.Minute,
			Threshold: 0.99,
			Cooldown:  time.Millisecond,
			MinEvents: 1_000_000,
		})
	}
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = 5 * time.Millisecond
	}
	if cfg.UploadTokens == 0 {
		cfg.UploadTokens = 1
	}
	if cfg.StoreID == "" {
		cfg.StoreID = "test-store"
	}
	manager := transition.NewManager(st, logger)
	return NewPool(st, adapter, manager, limiter, breaker, cfg, logger, nil)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPool_CleanBatchReachesIndexed(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	seedIngestFile(t, st, dir, "a.txt", "alpha")
	seedIngestFile(t, st, dir, "b.txt", "beta")
	seedIngestFile(t, st, dir, "c.txt", "gamma")

	marker := filepath.Join(t.TempDir(), "checkpoint.json")
	mock := index.NewMock(index.MockConfig{})
	p := newTestPool(t, st, mock, nil, Config{Workers: 2, MarkerPath: marker})

	ctx := context.Background()
	require.NoError(t, p.Run(ctx))

	counts, err := st.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[lifecycle.StateIndexed])
	assert.Equal(t, 3, p.Completed())

	violations, err := st.FileInvariants(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	m, err := ReadMarker(marker)
	require.NoError(t, err)
	assert.Nil(t, m, "a clean run leaves no checkpoint")
}

func TestPool_CreditPauseWritesMarkerAndResumes(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	seedIngestFile(t, st, dir, "a.txt", "alpha")
	seedIngestFile(t, st, dir, "b.txt", "beta")
	seedIngestFile(t, st, dir, "c.txt", "gamma")

	marker := filepath.Join(t.TempDir(), "checkpoint.json")
	mock := index.NewMock(index.MockConfig{
		Faults: []index.FaultScript{{UploadOrdinal: 2, Kind: faults.KindCreditExhausted}},
	})
	ctx := context.Background()

	p := newTestPool(t, st, mock, nil, Config{Workers: 1, MarkerPath: marker})
	err := p.Run(ctx)
	assert.ErrorIs(t, err, ErrCreditPause)

	m, err := ReadMarker(marker)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "credit_exhausted", m.Reason)
	assert.Equal(t, 3, m.Remaining, "no file reached a terminal state yet")

	// A fresh pool over the same store and adapter resumes: the fault was
	// one-shot and upload is idempotent by content.
	resume := newTestPool(t, st, mock, nil, Config{Workers: 1, MarkerPath: marker})
	require.NoError(t, resume.Run(ctx))

	counts, err := st.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[lifecycle.StateIndexed])

	m, err = ReadMarker(marker)
	require.NoError(t, err)
	assert.Nil(t, m, "completion clears the checkpoint")
}

func TestPool_RemoteFailureDrivesRowToFailed(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	path := seedIngestFile(t, st, dir, "a.txt", "corrupted payload")

	mock := index.NewMock(index.MockConfig{
		RemoteFailures: map[string]string{contentHash("corrupted payload"): "corrupt archive"},
	})
	p := newTestPool(t, st, mock, nil, Config{Workers: 1})

	ctx := context.Background()
	require.NoError(t, p.Run(ctx))

	f, err := st.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateFailed, f.State)
	assert.Equal(t, "corrupt archive", f.LastError.String)
	assert.Equal(t, "upload", f.FailureStage.String)

	violations, err := st.FileInvariants(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations, "failed rows carry their diagnostics")
}

func TestPool_TransientEscalationSidelinesUntrackedRow(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	path := seedIngestFile(t, st, dir, "a.txt", "flaky")

	// Every upload attempt fails transiently until the per-file budget is
	// spent. An untracked row has no fail edge, so the pool must sideline it
	// and terminate rather than re-claim it forever.
	mock := index.NewMock(index.MockConfig{
		Faults: []index.FaultScript{
			{UploadOrdinal: 1, Kind: faults.KindTransient},
			{UploadOrdinal: 2, Kind: faults.KindTransient},
			{UploadOrdinal: 3, Kind: faults.KindTransient},
		},
	})
	p := newTestPool(t, st, mock, nil, Config{Workers: 1, MaxTransient: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Run(ctx)
	require.NoError(t, err, "run must terminate, not spin on the sidelined row")

	state, version, err := st.ReadState(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateUntracked, state, "next run starts the row fresh")
	assert.EqualValues(t, 0, version)
}

func TestPool_BreakerHaltStopsRun(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	seedIngestFile(t, st, dir, "a.txt", "doomed")

	scripts := make([]index.FaultScript, 10)
	for i := range scripts {
		scripts[i] = index.FaultScript{UploadOrdinal: i + 1, Kind: faults.KindTransient}
	}
	mock := index.NewMock(index.MockConfig{Faults: scripts})

	breaker := ratelimit.NewBreaker(ratelimit.BreakerConfig{
		Window:    time.Minute,
		Threshold: 0.05,
		Cooldown:  time.Millisecond,
		MinEvents: 2,
	})
	marker := filepath.Join(t.TempDir(), "checkpoint.json")
	p := newTestPool(t, st, mock, breaker, Config{Workers: 1, MaxTransient: 100, MarkerPath: marker})

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrBreakerHalted)

	m, err := ReadMarker(marker)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "breaker_halted", m.Reason)
}

// integrityAdapter raises an integrity fault on every upload, standing in
// for a constraint violation surfacing from the durable layer.
type integrityAdapter struct{}

func (integrityAdapter) Upload(ctx context.Context, localPath string, metadata map[string]string) (string, error) {
	return "", faults.New(faults.KindIntegrity, "upload", "FOREIGN KEY constraint failed")
}

func (integrityAdapter) Poll(ctx context.Context, operationID string) (index.PollResult, error) {
	return index.PollResult{}, nil
}

func (integrityAdapter) Query(ctx context.Context, req index.QueryRequest) ([]index.GroundingChunk, error) {
	return nil, nil
}

func TestPool_IntegrityViolationCrashFails(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	path := seedIngestFile(t, st, dir, "a.txt", "corrupting")

	// An integrity violation signals data corruption. The pool must stop
	// with a non-nil error, never retry or sideline the row as if the
	// failure were transient.
	p := newTestPool(t, st, integrityAdapter{}, nil, Config{Workers: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity violation")
	assert.True(t, faults.IsIntegrity(err))

	state, version, err := st.ReadState(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateUntracked, state, "the row is left untouched for inspection")
	assert.EqualValues(t, 0, version)
}

func TestPool_PostcommitMarkDrivesRowToFailed(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	path := seedIngestFile(t, st, dir, "a.txt", "half committed")

	p := newTestPool(t, st, index.NewMock(index.MockConfig{}), nil, Config{Workers: 1})
	ctx := context.Background()

	// Advance the row to uploading so a legal fail edge exists.
	opID := "op-postcommit"
	outcome, err := p.manager.Transition(ctx, path, lifecycle.EventStartUpload,
		transition.Payload{Fields: lifecycle.Fields{OperationID: &opID}})
	require.NoError(t, err)
	require.Equal(t, transition.OutcomeSuccess, outcome)

	// A failed post-commit side effect marks the row for repair.
	row, err := st.ReadFile(ctx, path)
	require.NoError(t, err)
	require.NoError(t, p.afterTransition(row, lifecycle.EventUploadComplete,
		transition.OutcomeFailedPostcommit, errors.New("session event append failed")))

	// The next claim repairs instead of re-running the side effect.
	require.NoError(t, p.Run(ctx))

	f, err := st.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateFailed, f.State)
	assert.Equal(t, failureStagePostCommit, f.FailureStage.String)
	assert.Contains(t, f.LastError.String, "post-commit")
	assert.False(t, p.takePostcommit(path), "the repair consumes the mark")
}

func TestPool_CancellationSurfaces(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	seedIngestFile(t, st, dir, "a.txt", "slow remote")

	// The operation never reports ready, so the pool polls until cancelled.
	mock := index.NewMock(index.MockConfig{PollsUntilProcessing: 1 << 20, PollsUntilReady: 1 << 21})
	p := newTestPool(t, st, mock, nil, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	state, _, err := st.ReadState(context.Background(), dir+"/a.txt")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateUploading, state, "position survives the interrupt")
}
