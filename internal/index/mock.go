package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/roach88/corpus/internal/faults"
)

// LatencyProfile shapes the mock's simulated remote latency.
type LatencyProfile string

const (
	// LatencyZero: every call returns immediately. For unit tests.
	LatencyZero LatencyProfile = "zero"
	// LatencyRealistic: constant 2s per call, matching observed remote
	// upload latency. For benchmark runs.
	LatencyRealistic LatencyProfile = "realistic"
	// LatencyRateLimited: every third upload answers 429 with a short
	// retry-after. For limiter tests.
	LatencyRateLimited LatencyProfile = "rate-limited"
)

// FaultScript injects a classified fault on the nth upload (1-based ordinal
// across the mock's lifetime).
type FaultScript struct {
	UploadOrdinal int
	Kind          faults.Kind
}

// MockConfig parameterizes a Mock.
type MockConfig struct {
	Profile LatencyProfile
	Seed    int64 // fixed seed for reproducible jitter
	// PollsUntilProcessing and PollsUntilReady shape the async operation:
	// an operation reports pending until the first threshold, processing
	// until the second, then ready. Zero values resolve immediately.
	PollsUntilProcessing int
	PollsUntilReady      int
	Faults               []FaultScript
	// RemoteFailures scripts remote-side indexing failures keyed by content
	// hash, observed at the first poll after upload.
	RemoteFailures map[string]string
	// Chunks are returned by Query, in order, filtered by TopK.
	Chunks []GroundingChunk
}

// Mock is the test harness's adapter double. Upload is idempotent by
// content hash, operations advance deterministically with poll count, and
// all randomness flows from a fixed seed.
type Mock struct {
	cfg MockConfig
	rng *rand.Rand

	mu         sync.Mutex
	uploads    int
	opsByHash  map[string]string // content hash -> operation id
	ops        map[string]*mockOp
	nextOp     int
}

type mockOp struct {
	fileID string
	polls  int
	failed string
}

// NewMock creates a mock adapter.
func NewMock(cfg MockConfig) *Mock {
	if cfg.Profile == "" {
		cfg.Profile = LatencyZero
	}
	return &Mock{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		opsByHash: make(map[string]string),
		ops:       make(map[string]*mockOp),
	}
}

// Uploads returns how many Upload calls the mock has served.
func (m *Mock) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

func (m *Mock) sleep(ctx context.Context) error {
	var d time.Duration
	switch m.cfg.Profile {
	case LatencyRealistic:
		d = 2 * time.Second
	default:
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Upload registers (or re-finds) an operation for the file's content hash.
func (m *Mock) Upload(ctx context.Context, localPath string, metadata map[string]string) (string, error) {
	if err := m.sleep(ctx); err != nil {
		return "", faults.Wrap(faults.KindTransient, "upload", err)
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", faults.Wrap(faults.KindReject, "upload", err)
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++

	for _, f := range m.cfg.Faults {
		if f.UploadOrdinal == m.uploads {
			return "", faults.New(f.Kind, "upload", fmt.Sprintf("scripted fault on upload %d", m.uploads))
		}
	}
	if m.cfg.Profile == LatencyRateLimited && m.uploads%3 == 0 {
		f := faults.New(faults.KindRateLimit, "upload", "scripted rate limit")
		f.RetryAfter = 50 * time.Millisecond
		return "", f
	}

	// Idempotent by content hash: identical content re-uses the operation.
	if opID, ok := m.opsByHash[hash]; ok {
		return opID, nil
	}

	m.nextOp++
	opID := fmt.Sprintf("op-%04d", m.nextOp)
	m.opsByHash[hash] = opID
	m.ops[opID] = &mockOp{
		fileID: fmt.Sprintf("file-%s", hash[:12]),
		failed: m.cfg.RemoteFailures[hash],
	}
	return opID, nil
}

// FailOperation scripts a remote-side indexing failure for an operation.
func (m *Mock) FailOperation(operationID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[operationID]; ok {
		op.failed = reason
	}
}

// Poll advances the operation's observed phase by poll count.
func (m *Mock) Poll(ctx context.Context, operationID string) (PollResult, error) {
	if err := m.sleep(ctx); err != nil {
		return PollResult{}, faults.Wrap(faults.KindTransient, "poll", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[operationID]
	if !ok {
		return PollResult{}, faults.New(faults.KindReject, "poll",
			fmt.Sprintf("unknown operation %s", operationID))
	}
	if op.failed != "" {
		return PollResult{State: PollFailed, Reason: op.failed}, nil
	}

	op.polls++
	switch {
	case op.polls <= m.cfg.PollsUntilProcessing:
		return PollResult{State: PollPending}, nil
	case op.polls <= m.cfg.PollsUntilReady:
		return PollResult{State: PollProcessing, FileID: op.fileID}, nil
	default:
		return PollResult{State: PollReady, FileID: op.fileID}, nil
	}
}

// Query returns the scripted chunks, capped at TopK.
func (m *Mock) Query(ctx context.Context, req QueryRequest) ([]GroundingChunk, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, faults.Wrap(faults.KindTransient, "query", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chunks := m.cfg.Chunks
	if req.TopK > 0 && len(chunks) > req.TopK {
		chunks = chunks[:req.TopK]
	}
	out := make([]GroundingChunk, len(chunks))
	copy(out, chunks)
	return out, nil
}
