package index

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/roach88/corpus/internal/faults"
)

// Per-attempt timeouts. Polls are slow server-side operations; queries are
// interactive.
const (
	pollTimeout  = 60 * time.Second
	queryTimeout = 10 * time.Second

	retryAttempts = 3
	retryBase     = 500 * time.Millisecond
)

// ClientConfig parameterizes the real adapter.
type ClientConfig struct {
	BaseURL string
	StoreID string
	APIKey  string
	Logger  *slog.Logger

	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client
}

// Client is the real HTTP adapter.
type Client struct {
	baseURL string
	storeID string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a Client. The API key is required; everything else has
// workable defaults.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("index client: missing API key")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("index client: missing base URL")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		storeID: cfg.StoreID,
		apiKey:  cfg.APIKey,
		http:    hc,
		logger:  logger,
	}, nil
}

type uploadRequest struct {
	StoreID     string            `json:"store_id"`
	Name        string            `json:"name"`
	ContentHash string            `json:"content_hash"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type uploadResponse struct {
	OperationID string `json:"operation_id"`
}

type pollResponse struct {
	State  string `json:"state"`
	FileID string `json:"file_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type queryRequestBody struct {
	StoreIDs []string          `json:"store_ids"`
	Query    string            `json:"query"`
	Filters  map[string]string `json:"filters,omitempty"`
	TopK     int               `json:"top_k"`
}

type queryResponse struct {
	Chunks []struct {
		FileID   string            `json:"file_id"`
		Text     string            `json:"text"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"chunks"`
}

// Upload reads the file, names it by content hash (the remote deduplicates
// on it, which makes re-upload after a crash idempotent), and returns the
// async operation handle.
func (c *Client) Upload(ctx context.Context, localPath string, metadata map[string]string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", faults.Wrap(faults.KindReject, "upload", err)
	}
	sum := sha256.Sum256(content)

	body := uploadRequest{
		StoreID:     c.storeID,
		Name:        filepath.Base(localPath),
		ContentHash: hex.EncodeToString(sum[:]),
		Content:     string(content),
		Metadata:    metadata,
	}

	var resp uploadResponse
	if err := c.call(ctx, http.MethodPost, "/v1/files:upload", body, &resp, pollTimeout, "upload"); err != nil {
		return "", err
	}
	if resp.OperationID == "" {
		return "", faults.New(faults.KindReject, "upload", "remote returned empty operation id")
	}
	return resp.OperationID, nil
}

// Poll observes one remote operation.
func (c *Client) Poll(ctx context.Context, operationID string) (PollResult, error) {
	var resp pollResponse
	path := "/v1/operations/" + operationID
	if err := c.call(ctx, http.MethodGet, path, nil, &resp, pollTimeout, "poll"); err != nil {
		return PollResult{}, err
	}

	switch PollState(resp.State) {
	case PollPending, PollProcessing, PollReady, PollFailed:
		return PollResult{State: PollState(resp.State), FileID: resp.FileID, Reason: resp.Reason}, nil
	default:
		return PollResult{}, faults.New(faults.KindReject, "poll",
			fmt.Sprintf("unknown operation state %q", resp.State))
	}
}

// Query retrieves grounding chunks.
func (c *Client) Query(ctx context.Context, req QueryRequest) ([]GroundingChunk, error) {
	stores := req.StoreIDs
	if len(stores) == 0 && c.storeID != "" {
		stores = []string{c.storeID}
	}
	body := queryRequestBody{
		StoreIDs: stores,
		Query:    req.Query,
		Filters:  req.Filters,
		TopK:     req.TopK,
	}

	var resp queryResponse
	if err := c.call(ctx, http.MethodPost, "/v1/stores:query", body, &resp, queryTimeout, "query"); err != nil {
		return nil, err
	}

	chunks := make([]GroundingChunk, 0, len(resp.Chunks))
	for _, ch := range resp.Chunks {
		chunks = append(chunks, GroundingChunk{FileID: ch.FileID, Text: ch.Text, Metadata: ch.Metadata})
	}
	return chunks, nil
}

// call performs one request with bounded transient retries. Transient here
// means 5xx or a transport error (timeouts included); rate-limit, credit,
// and permanent rejections escalate immediately, classified.
func (c *Client) call(ctx context.Context, method, path string, body, out any, timeout time.Duration, stage string) error {
	var lastErr error
	delay := retryBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err := c.once(ctx, method, path, body, out, timeout, stage)
		if err == nil {
			return nil
		}
		if !faults.IsTransient(err) {
			return err
		}
		lastErr = err
		c.logger.Debug("transient index failure, backing off",
			"stage", stage, "attempt", attempt+1, "error", err)

		// Jittered exponential backoff.
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		select {
		case <-ctx.Done():
			return faults.Wrap(faults.KindTransient, stage, ctx.Err())
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body, out any, timeout time.Duration, stage string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return faults.Wrap(faults.KindReject, stage, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return faults.Wrap(faults.KindReject, stage, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return faults.Wrap(faults.KindTransient, stage, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return faults.Wrap(faults.KindTransient, stage, err)
		}
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		f := faults.New(faults.KindRateLimit, stage, "rate limited")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				f.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return f

	case resp.StatusCode == http.StatusPaymentRequired:
		return faults.New(faults.KindCreditExhausted, stage, "credits exhausted")

	case resp.StatusCode >= 500:
		return faults.New(faults.KindTransient, stage,
			fmt.Sprintf("server error %d", resp.StatusCode))

	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return faults.New(faults.KindReject, stage,
			fmt.Sprintf("rejected with status %d: %s", resp.StatusCode, msg))
	}
}
