package index

import "context"

// PollState is the remote operation's observed phase.
type PollState string

const (
	// PollPending: the operation exists but no file identifier has been
	// assigned yet.
	PollPending PollState = "pending"
	// PollProcessing: a file identifier is assigned; indexing continues.
	PollProcessing PollState = "processing"
	// PollReady: indexing finished; the file is queryable.
	PollReady PollState = "ready"
	// PollFailed: the remote rejected or lost the operation.
	PollFailed PollState = "failed"
)

// PollResult is one observation of an async remote operation.
type PollResult struct {
	State  PollState
	FileID string // set once the remote assigns an identifier
	Reason string // set when State is PollFailed
}

// QueryRequest scopes a retrieval call.
type QueryRequest struct {
	StoreIDs []string
	Query    string
	Filters  map[string]string
	TopK     int
}

// GroundingChunk is one passage of retrieval evidence.
type GroundingChunk struct {
	FileID   string
	Text     string
	Metadata map[string]string
}

// Adapter is the index service facade the pipeline depends on.
//
// Upload is idempotent by content hash: re-uploading identical content
// returns a handle to the same remote operation, which is what makes
// crash-recovery re-polls safe.
type Adapter interface {
	// Upload submits the file at localPath with attached metadata and
	// returns an operation handle immediately; indexing is async.
	Upload(ctx context.Context, localPath string, metadata map[string]string) (string, error)

	// Poll observes the operation behind a handle.
	Poll(ctx context.Context, operationID string) (PollResult, error)

	// Query returns up to TopK grounding chunks for the query.
	Query(ctx context.Context, req QueryRequest) ([]GroundingChunk, error)
}
