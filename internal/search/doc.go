// Package search implements the read path: expand, retrieve, rerank,
// diversify, synthesize, validate.
//
// Every stage after retrieval degrades independently. Rerank failure keeps
// retrieval order with a surfaced warning; synthesis or citation-validation
// failure falls back to labeled excerpts from the diversified passages.
// Only retrieval failure fails the request. Stage failures are emitted as
// error events to the active session.
//
// Citations reference deterministic passage identifiers (see store.PassageID)
// so session replay is stable across re-indexing.
package search
