package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/corpus/internal/faults"
)

// Synthesis is the structured answer a generation call must return.
// Summary is non-factual framing; the claims carry the citations.
type Synthesis struct {
	Claims  []Claim `json:"claims"`
	Summary string  `json:"summary,omitempty"`
}

// Claim is one cited assertion.
type Claim struct {
	ClaimText string   `json:"claim_text"`
	Citation  Citation `json:"citation"`
}

// Citation names the evidence for a claim. Quote must be a (normalized)
// substring of the cited passage.
type Citation struct {
	FileID    string `json:"file_id"`
	PassageID string `json:"passage_id"`
	Quote     string `json:"quote"`
}

// SynthesisInput is the structured prompt for one generation call.
type SynthesisInput struct {
	Query    string
	Passages []RankedPassage
	// Failures names the specific citation problems from a prior attempt.
	// Non-empty on the single corrective re-prompt.
	Failures []string
}

// Model is the external ranking/generation model behind the rerank and
// synthesize stages. Implementations own retries and fault classification.
type Model interface {
	// Rerank returns the passage indices in relevance order, best first.
	Rerank(ctx context.Context, query string, passages []string) ([]int, error)

	// Synthesize returns a structured, cited answer over the passages.
	Synthesize(ctx context.Context, input SynthesisInput) (*Synthesis, error)
}

const modelTimeout = 30 * time.Second

// HTTPModel is the real Model over the service's model endpoints.
// Temperature is fixed at zero: ranking and citation must be reproducible.
type HTTPModel struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPModel builds an HTTPModel.
func NewHTTPModel(baseURL, apiKey string) (*HTTPModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("http model: missing API key")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("http model: missing base URL")
	}
	return &HTTPModel{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{}}, nil
}

type rerankBody struct {
	Query       string   `json:"query"`
	Passages    []string `json:"passages"`
	Temperature float64  `json:"temperature"`
}

type rerankResponse struct {
	Indices []int `json:"indices"`
}

func (m *HTTPModel) Rerank(ctx context.Context, query string, passages []string) ([]int, error) {
	var resp rerankResponse
	err := m.post(ctx, "/v1/models:rerank", rerankBody{Query: query, Passages: passages}, &resp, "rerank")
	if err != nil {
		return nil, err
	}
	return resp.Indices, nil
}

type synthesizeBody struct {
	Query       string             `json:"query"`
	Passages    []synthesisPassage `json:"passages"`
	Failures    []string           `json:"failures,omitempty"`
	Temperature float64            `json:"temperature"`
}

type synthesisPassage struct {
	PassageID string `json:"passage_id"`
	FileID    string `json:"file_id"`
	Text      string `json:"text"`
}

func (m *HTTPModel) Synthesize(ctx context.Context, input SynthesisInput) (*Synthesis, error) {
	body := synthesizeBody{Query: input.Query, Failures: input.Failures}
	for _, ps := range input.Passages {
		body.Passages = append(body.Passages, synthesisPassage{
			PassageID: ps.PassageID,
			FileID:    ps.FileID,
			Text:      ps.Text,
		})
	}

	var out Synthesis
	if err := m.post(ctx, "/v1/models:generate", body, &out, "synthesize"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *HTTPModel) post(ctx context.Context, path string, body, out any, stage string) error {
	ctx, cancel := context.WithTimeout(ctx, modelTimeout)
	defer cancel()

	buf, err := json.Marshal(body)
	if err != nil {
		return faults.Wrap(faults.KindReject, stage, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return faults.Wrap(faults.KindReject, stage, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := m.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return faults.Wrap(faults.KindTransient, stage, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return faults.Wrap(faults.KindReject, stage, err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		f := faults.New(faults.KindRateLimit, stage, "rate limited")
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			f.RetryAfter = time.Duration(secs) * time.Second
		}
		return f
	case resp.StatusCode == http.StatusPaymentRequired:
		return faults.New(faults.KindCreditExhausted, stage, "credits exhausted")
	case resp.StatusCode >= 500:
		return faults.New(faults.KindTransient, stage, fmt.Sprintf("server error %d", resp.StatusCode))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return faults.New(faults.KindReject, stage, fmt.Sprintf("rejected with status %d: %s", resp.StatusCode, msg))
	}
}
