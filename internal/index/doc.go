// Package index adapts the external managed retrieval service behind a
// three-operation facade: upload, poll, query.
//
// The adapter owns authentication, per-attempt timeouts, bounded retries
// with jittered exponential backoff on transient failures, and the mapping
// from transport responses to the faults taxonomy. Callers never see an
// HTTP status code.
//
// Two implementations satisfy Adapter: Client (real HTTP) and Mock (the
// test harness's scriptable double with configurable latency profiles).
package index
