package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"github.com/roach88/corpus/internal/faults"
	"github.com/roach88/corpus/internal/glossary"
	"github.com/roach88/corpus/internal/index"
	"github.com/roach88/corpus/internal/store"
)

// Mode selects the ordering policy for the final passage window.
type Mode string

const (
	// ModeResearch keeps rerank order untouched.
	ModeResearch Mode = "research"
	// ModeLearn reorders the top window by (difficulty bucket, rerank rank).
	ModeLearn Mode = "learn"
)

const (
	defaultTopK          = 50
	rerankPrefixLen      = 500
	maxPassagesPerFile   = 2
	resultTarget         = 10
	minSynthesisPassages = 5
)

// Request is one search invocation.
type Request struct {
	Query      string
	Filters    map[string]string
	TopK       int
	Mode       Mode
	Expand     bool
	Rerank     bool
	Synthesize bool
	SessionID  string // empty: no events emitted
}

// RankedPassage is one passage after ranking and diversification.
type RankedPassage struct {
	PassageID     string
	FileID        string
	Text          string
	Metadata      map[string]string
	RetrievalRank int // 0-based position in retrieval order
	RerankRank    int // 0-based position after rerank (== RetrievalRank when rerank is off)
}

// Result is the pipeline's answer.
type Result struct {
	Query         string
	ExpandedQuery string
	Matches       []glossary.Match
	Passages      []RankedPassage
	Synthesis     *Synthesis // nil: excerpts only
	Warnings      []string
}

// Pipeline wires the search stages. Glossary and model may be nil; the
// corresponding stages are skipped (expansion) or degrade (rerank,
// synthesis).
type Pipeline struct {
	adapter  index.Adapter
	model    Model
	store    *store.Store
	glossary *glossary.Glossary
	logger   *slog.Logger
}

// NewPipeline builds a Pipeline.
func NewPipeline(adapter index.Adapter, model Model, st *store.Store, gl *glossary.Glossary, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{adapter: adapter, model: model, store: st, glossary: gl, logger: logger}
}

// Run executes the staged pipeline for one request.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Query: req.Query, ExpandedQuery: req.Query}

	// Expand.
	if req.Expand && p.glossary != nil {
		res.ExpandedQuery, res.Matches = p.glossary.Expand(req.Query)
	}

	// Retrieve. The only stage whose failure fails the request.
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	chunks, err := p.adapter.Query(ctx, index.QueryRequest{
		Query:   res.ExpandedQuery,
		Filters: req.Filters,
		TopK:    topK,
	})
	if err != nil {
		p.emitError(ctx, req.SessionID, "retrieve", err)
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	// Passage identity: every grounding chunk is upserted so citations and
	// session replay survive re-indexing.
	passages := make([]RankedPassage, 0, len(chunks))
	for i, ch := range chunks {
		id, err := p.store.UpsertPassage(ctx, ch.FileID, ch.Text)
		if err != nil {
			p.emitError(ctx, req.SessionID, "passage_upsert", err)
			return nil, fmt.Errorf("record passage: %w", err)
		}
		passages = append(passages, RankedPassage{
			PassageID:     id,
			FileID:        ch.FileID,
			Text:          ch.Text,
			Metadata:      ch.Metadata,
			RetrievalRank: i,
			RerankRank:    i,
		})
	}

	// Rerank. Failure keeps retrieval order with a surfaced warning.
	if req.Rerank && p.model != nil && len(passages) > 1 {
		reordered, err := p.rerank(ctx, res.ExpandedQuery, passages)
		if err != nil {
			warning := fmt.Sprintf("rerank failed, keeping retrieval order: %v", err)
			res.Warnings = append(res.Warnings, warning)
			p.logger.Warn("rerank degraded", "error", err)
			p.emitError(ctx, req.SessionID, "rerank", err)
		} else {
			passages = reordered
		}
	}

	// Diversify, then order for the mode.
	passages = diversify(passages, resultTarget, maxPassagesPerFile)
	if req.Mode == ModeLearn {
		passages = orderByDifficulty(passages)
	}
	res.Passages = passages

	// Synthesize (opt-in). Too few passages: excerpts only, no warning -
	// that is the documented behavior, not a degradation.
	if req.Synthesize && p.model != nil {
		if len(passages) < minSynthesisPassages {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("only %d passages eligible; returning excerpts", len(passages)))
		} else {
			synthesis, warnings := p.synthesize(ctx, req, res.ExpandedQuery, passages)
			res.Synthesis = synthesis
			res.Warnings = append(res.Warnings, warnings...)
		}
	}

	p.emitSearch(ctx, req, res)
	return res, nil
}

// rerank submits bounded passage prefixes in one structured call and
// applies the returned ordering. The returned indices are sanitized:
// out-of-range and duplicate entries are dropped, omitted passages keep
// their relative retrieval order at the tail.
func (p *Pipeline) rerank(ctx context.Context, query string, passages []RankedPassage) ([]RankedPassage, error) {
	prefixes := make([]string, len(passages))
	for i, ps := range passages {
		prefixes[i] = prefixOnRuneBoundary(ps.Text, rerankPrefixLen)
	}

	indices, err := p.model.Rerank(ctx, query, prefixes)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(indices))
	out := make([]RankedPassage, 0, len(passages))
	for _, idx := range indices {
		if idx < 0 || idx >= len(passages) || seen[idx] {
			continue
		}
		seen[idx] = true
		ps := passages[idx]
		ps.RerankRank = len(out)
		out = append(out, ps)
	}
	for i, ps := range passages {
		if !seen[i] {
			ps.RerankRank = len(out)
			out = append(out, ps)
		}
	}
	return out, nil
}

// prefixOnRuneBoundary truncates to at most max bytes without splitting a
// multi-byte rune at the cut.
func prefixOnRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// orderByDifficulty stably reorders by (difficulty bucket, rerank rank).
func orderByDifficulty(passages []RankedPassage) []RankedPassage {
	out := make([]RankedPassage, len(passages))
	copy(out, passages)
	// Insertion sort: the window is small and stability matters.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if difficultyBucket(a) > difficultyBucket(b) ||
				(difficultyBucket(a) == difficultyBucket(b) && a.RerankRank > b.RerankRank) {
				out[j-1], out[j] = b, a
			} else {
				break
			}
		}
	}
	return out
}

// difficultyBucket maps passage metadata to a coarse ordering key.
// Unlabeled passages sort between beginner and advanced material.
func difficultyBucket(ps RankedPassage) int {
	switch ps.Metadata["difficulty"] {
	case "beginner", "intro", "introductory":
		return 1
	case "advanced":
		return 3
	}
	if n, err := strconv.Atoi(ps.Metadata["difficulty"]); err == nil {
		return n
	}
	return 2
}

// emitSearch records the search (and synthesize) events on the active
// session. Event emission failures are logged, never fatal.
func (p *Pipeline) emitSearch(ctx context.Context, req Request, res *Result) {
	if req.SessionID == "" {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"query":          res.Query,
		"expanded_query": res.ExpandedQuery,
		"mode":           string(req.Mode),
		"passages":       len(res.Passages),
		"warnings":       res.Warnings,
	})
	if _, err := p.store.AppendEvent(ctx, req.SessionID, store.EventSearch, string(payload)); err != nil {
		p.logger.Warn("failed to emit search event", "error", err)
	}

	if res.Synthesis != nil {
		payload, _ := json.Marshal(map[string]any{
			"query":  res.Query,
			"claims": len(res.Synthesis.Claims),
		})
		if _, err := p.store.AppendEvent(ctx, req.SessionID, store.EventSynthesize, string(payload)); err != nil {
			p.logger.Warn("failed to emit synthesize event", "error", err)
		}
	}
}

// emitError records a stage failure on the active session.
func (p *Pipeline) emitError(ctx context.Context, sessionID, stage string, stageErr error) {
	if sessionID == "" {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"stage": stage,
		"kind":  string(faults.KindOf(stageErr)),
		"error": stageErr.Error(),
	})
	if _, err := p.store.AppendEvent(ctx, sessionID, store.EventError, string(payload)); err != nil {
		p.logger.Warn("failed to emit error event", "error", err)
	}
}
