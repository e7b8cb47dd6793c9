// Package toolexecutor invokes registered tools with bounded concurrency, per-tool
// timeouts, retry with exponential backoff and an optional circuit breaker.
//
// Invariants:
// - Every call that is not cancelled produces exactly one ExecutionResult.
// - Tool failures, including circuit-open short-circuits, are results; only
//   cancellation of the caller's context is returned as an error.
// - Attempts of one call are strictly sequential.
// - ExecuteBatch returns results in input order.
//
// Usage:
//
//	inv := toolexecutor.New(8, toolexecutor.WithBreaker(circuitbreaker.New(circuitbreaker.DefaultConfig())))
//	_ = inv.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
//	res, err := inv.Execute(ctx, toolexecutor.ToolCall{ToolName: "echo", Arguments: map[string]interface{}{"text": "hi"}})
package toolexecutor
