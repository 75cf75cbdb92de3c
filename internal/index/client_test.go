package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpus/internal/faults"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL: baseURL,
		StoreID: "store-1",
		APIKey:  "test-key",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func TestClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestClient_UploadSendsContentHashAndAuth(t *testing.T) {
	var got uploadRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(uploadResponse{OperationID: "op-1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	path := writeTemp(t, "hello corpus")
	op, err := c.Upload(context.Background(), path, map[string]string{"course": "c1"})
	require.NoError(t, err)
	assert.Equal(t, "op-1", op)

	sum := sha256.Sum256([]byte("hello corpus"))
	assert.Equal(t, hex.EncodeToString(sum[:]), got.ContentHash)
	assert.Equal(t, "store-1", got.StoreID)
	assert.Equal(t, "f.txt", got.Name)
	assert.Equal(t, "c1", got.Metadata["course"])
	assert.Equal(t, "Bearer test-key", auth)
}

func TestClient_UploadEmptyOperationIDRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(uploadResponse{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Upload(context.Background(), writeTemp(t, "x"), nil)
	assert.True(t, faults.IsReject(err))
}

func TestClient_RateLimitedWithRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Poll(context.Background(), "op-1")
	assert.True(t, faults.IsRateLimit(err))
	assert.Equal(t, 17*time.Second, faults.RetryAfterOf(err))
	assert.EqualValues(t, 1, hits.Load(), "rate limits escalate without client-side retry")
}

func TestClient_CreditExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Upload(context.Background(), writeTemp(t, "x"), nil)
	assert.True(t, faults.IsCreditExhausted(err))
}

func TestClient_PermanentRejection(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Poll(context.Background(), "op-1")
	assert.True(t, faults.IsReject(err))
	assert.EqualValues(t, 1, hits.Load())
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(pollResponse{State: "ready", FileID: "file-9"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Poll(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, PollReady, res.State)
	assert.Equal(t, "file-9", res.FileID)
	assert.EqualValues(t, 2, hits.Load())
}

func TestClient_TransientRetriesAreBounded(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Poll(context.Background(), "op-1")
	assert.True(t, faults.IsTransient(err))
	assert.EqualValues(t, retryAttempts, hits.Load())
}

func TestClient_PollUnknownStateRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pollResponse{State: "limbo"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Poll(context.Background(), "op-1")
	assert.True(t, faults.IsReject(err))
}

func TestClient_QueryDefaultsToConfiguredStore(t *testing.T) {
	var got queryRequestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"chunks":[{"file_id":"file-1","text":"passage text","metadata":{"course":"c1"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	chunks, err := c.Query(context.Background(), QueryRequest{Query: "q", TopK: 5})
	require.NoError(t, err)

	assert.Equal(t, []string{"store-1"}, got.StoreIDs)
	assert.Equal(t, 5, got.TopK)
	require.Len(t, chunks, 1)
	assert.Equal(t, "file-1", chunks[0].FileID)
	assert.Equal(t, "c1", chunks[0].Metadata["course"])
}
