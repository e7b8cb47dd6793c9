package toolexecutor

import "context"

// CallInfo describes the attempt a handler is running in.
type CallInfo struct {
	CallID   string
	ToolName string
	// Attempt counts from 0.
	Attempt int
}

type callInfoKey struct{}

// ContextWithCallInfo attaches call information to a context for tool handlers.
func ContextWithCallInfo(ctx context.Context, info CallInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext extracts the call information, if any.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	if ctx == nil {
		return CallInfo{}, false
	}
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
