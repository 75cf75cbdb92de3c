// Package harness provides conformance testing for the ingestion pipeline.
//
// A scenario seeds a corpus tree, runs a scan and a full ingestion batch
// against the mock index adapter, and checks the resulting file states
// against the scenario's expectations plus the store's structural
// invariants.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	files:
//	  - path: economics/micro-101/lectures/intro_01.txt
//	    content: "supply and demand basics"
//	faults:
//	  - upload_ordinal: 2
//	    kind: TRANSIENT
//	mock:
//	  polls_until_processing: 1
//	  polls_until_ready: 2
//	pool:
//	  workers: 3
//	  max_transient: 3
//	expect:
//	  stop: ""   # or credit_pause, breaker_halted
//	  states:
//	    economics/micro-101/lectures/intro_01.txt: indexed
//
// # Deterministic Testing
//
// Scenarios run against a fresh in-memory database, a zero-latency mock
// adapter with a fixed seed, and an effectively unlimited rate limiter.
// Fault injection is scripted by upload ordinal, so state outcomes are
// reproducible and suitable for golden snapshot comparison.
package harness
