// Package circuitbreaker isolates degraded tools with a per-tool sliding-window
// failure gate.
//
// Invariants:
// - Failure timestamps older than the window are pruned before every decision.
// - While a tool is open, calls fail fast with ErrOpen and are not counted as failures.
// - The first call after the cooloff is attempted normally (implicit half-open probe).
// - Cancellation of the caller's context is never counted as a failure.
package circuitbreaker
