// Package ingest runs the bounded worker pool that drives discovered files
// through their lifecycle until every row is terminal.
//
// The state store is the queue: a feeder claims eligible rows in
// deterministic order and fans them out to interchangeable workers; each
// worker performs at most one transition per claim. Per-file locks plus the
// store's OCC discipline make concurrent claims on the same file race-free.
//
// Fault policy, in order of severity: transient failures retry in place
// (bounded per file, then the row is driven to failed); rate limits feed
// back into the adaptive limiter; credit exhaustion checkpoints and stops
// the pool cleanly; permanent rejections drive the row to failed; integrity
// violations crash the pool.
package ingest
