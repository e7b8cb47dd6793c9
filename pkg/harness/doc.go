// Package harness wires the reliability components into one service object.
//
// A Harness owns a storage Router, a circuit Breaker, a tool Invoker, an eviction
// Manager and a session Registry. RunTools is the data flow an orchestrator uses
// for each batch of tool calls:
//
//	BeforeToolCalls -> Invoker.ExecuteBatch -> eviction per result -> AfterToolCalls
//
// Cancellation of the caller's context marks the session errored and is the only
// error RunTools returns. Tool failures are reported in the results.
//
// Create one Harness per process (or per tenant), register tools on it, and call
// Close on shutdown to release storage connections.
package harness
