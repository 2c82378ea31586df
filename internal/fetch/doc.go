// Package fetch implements the muxfetch transfer engine.
//
// Many caller goroutines submit requests; one worker goroutine owns every
// in-flight transfer and wakes each caller exactly once when its transfer
// finishes, is cancelled, or the engine shuts down.
//
// ARCHITECTURE:
//
// Single-Owner Worker:
// All admission, polling, removal, and teardown happen on the worker
// goroutine. Callers never touch the multiplexer directly. They interact
// through three shared structures:
//   - requestQueue: mutex-guarded slice of queue elements
//   - stateMachine: mutex-guarded WorkerState plus a coalescing wake channel
//   - completion: a one-shot future per admission cycle
//
// Request Flow:
//  1. Submit enqueues the request and signals ADMIT
//  2. The worker claims every unclaimed element (atomic CAS) and hands its
//     Handle to the multiplexer
//  3. RUNNING cycles poll for transfer completions, bounded by MaxPollInterval
//  4. Each completion is unlinked from the queue and its future resolved
//  5. With no active transfers the worker returns to WAIT
//
// Whoever unlinks an element from the queue fires its completion. Only the
// worker unlinks, so every admitted request is resolved exactly once,
// including on shutdown (SHUTDOWN) and cancellation (REMOVED).
//
// Lifecycle:
// Engine.Acquire starts the worker on the 0->1 transition and blocks until it
// reports readiness. Engine.Release stops and joins it on 1->0.
package fetch
