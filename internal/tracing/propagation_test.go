package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToToolCall(t *testing.T) {
	parent := NewRunContext(context.Background(), "session-abc")
	parent = WithToolName(parent, "previous")

	child := PropagateToToolCall(parent, "search", "call-1")

	if GetTraceID(child) != GetTraceID(parent) {
		t.Error("trace ID not propagated")
	}
	if GetRunID(child) != GetRunID(parent) {
		t.Error("run ID not propagated")
	}
	if GetSessionID(child) != "session-abc" {
		t.Error("session ID not propagated")
	}
	if GetToolName(child) != "search" || GetCallID(child) != "call-1" {
		t.Error("tool call values not set")
	}
}

func TestPropagateToToolCallGeneratesTrace(t *testing.T) {
	child := PropagateToToolCall(context.Background(), "search", "call-1")
	if GetTraceID(child) == "" {
		t.Error("trace ID not generated when missing")
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithSessionID(ctx, "session-1")
	ctx = WithCallID(ctx, "call-7")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"trace_id":"trace-123"`, `"session_id":"session-1"`, `"call_id":"call-7"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}
	if strings.Contains(out, `"run_id"`) {
		t.Error("empty run ID should not be logged")
	}
}

func TestMergeContext(t *testing.T) {
	source := WithTraceID(context.Background(), "trace-src")
	source = WithSessionID(source, "session-src")

	target := WithSessionID(context.Background(), "session-target")
	merged := MergeContext(target, source)

	if GetTraceID(merged) != "trace-src" {
		t.Error("trace ID not merged")
	}
	if GetSessionID(merged) != "session-target" {
		t.Error("existing session ID was overwritten")
	}
}

func TestDetachSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(WithCallID(context.Background(), "call-1"))
	cancel()

	detached := Detach(ctx)
	if detached.Err() != nil {
		t.Error("detached context should not be cancelled")
	}
	if GetCallID(detached) != "call-1" {
		t.Error("call ID not carried over")
	}
}
