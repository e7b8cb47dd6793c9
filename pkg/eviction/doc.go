// Package eviction keeps the orchestrator's working context bounded by moving
// oversized tool output into storage and replacing it with a short pointer.
//
// Invariants:
// - Output shorter than the threshold passes through unchanged.
// - An artifact path is never reused for different content.
// - A failed storage write never loses data: the original output is returned.
// - Cleanup never deletes a path whose timestamp suffix does not parse.
package eviction
