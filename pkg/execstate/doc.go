// Package execstate tracks which phase of the orchestrator loop each session is in.
//
// A Tracker is a small state machine over Phase. Transitions follow a fixed table
// (idle -> processing_input -> awaiting_model -> executing_tools ->
// processing_results -> awaiting_model | streaming_response -> completed) and any
// phase may move to errored. Completed and errored sessions return to idle before
// the next turn. Each accepted transition is logged with the time spent in the
// phase it left, which is what PhaseDurations and Summary report.
//
// Trackers live in a Registry bounded by capacity and idle TTL. Hooks wires the
// orchestrator lifecycle (model calls, tool batches, streaming, completion and
// errors) to the registry.
package execstate
