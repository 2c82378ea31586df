// Package harness runs conformance scenarios against the fetch engine.
//
// A scenario starts a fresh engine, submits every request from its own
// goroutine against a local test origin, and checks each resolved cycle
// against the scenario's expectations. The trace is compared with a golden
// file in canonical JSON.
//
// # Scenario Format
//
//	name: cancel_stalled
//	description: "A never-closing transfer is removed from another goroutine"
//	release_after: 2s          # optional: drop the harness reference early
//	requests:
//	  - name: ok
//	    path: /status/200
//	  - name: stalled
//	    path: /stall
//	    cancel_after: 150ms
//	  - name: polled
//	    path: /status/204
//	    rounds: 3              # resubmit the same request
//	expect:
//	  ok: { result: DONE, status: 200, class: success }
//	  stalled: { result: REMOVED }
//	  polled: { result: DONE, status: 204 }
//
// Request fields: name, path or url, method, rounds, cancel_after, timeout,
// retries, no_follow. Expectation fields: result, status, class, attempts,
// body_contains, transport_error. Unknown fields are rejected.
//
// # Determinism
//
// Request IDs are "{scenario}/{request}". The trace holds the scenario's
// path or URL rather than the origin's address, and is ordered by request
// then round, so concurrent execution still yields identical golden files.
package harness
