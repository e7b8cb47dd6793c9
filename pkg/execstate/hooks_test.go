package execstate

import (
	"context"
	"errors"
	"testing"

	"github.com/harun/warden/internal/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHooksToolLoop(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	defer r.Close()
	h := NewHooks(r)
	ctx := tracing.WithRunID(tracing.WithTraceID(context.Background(), "trace-1"), "run-1")

	require.True(t, h.BeforeModelCall(ctx, "s1"))
	assert.True(t, h.AfterModelCall(ctx, "s1", 2))
	require.True(t, h.BeforeToolCalls(ctx, "s1", 2))
	require.True(t, h.AfterToolCalls(ctx, "s1", 1, 1))
	require.True(t, h.BeforeModelCall(ctx, "s1"))
	require.True(t, h.OnStreamStart(ctx, "s1"))
	require.True(t, h.OnComplete(ctx, "s1"))

	tr, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, PhaseCompleted, tr.Phase())
	assert.Equal(t, 2, tr.ModelCallCount())
	assert.Equal(t, 1, tr.ToolCallCount())

	var executing Transition
	for _, tx := range tr.Transitions() {
		if tx.To == PhaseExecutingTools {
			executing = tx
		}
	}
	assert.Equal(t, 2, executing.Metadata["calls"])
	assert.Equal(t, "trace-1", executing.Metadata["trace_id"])
	assert.Equal(t, "run-1", executing.Metadata["run_id"])
}

func TestHooksNextTurnResets(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	defer r.Close()
	h := NewHooks(r)
	ctx := context.Background()

	require.True(t, h.BeforeModelCall(ctx, "s1"))
	require.True(t, h.OnStreamStart(ctx, "s1"))
	require.True(t, h.OnComplete(ctx, "s1"))

	require.True(t, h.BeforeModelCall(ctx, "s1"))
	tr, _ := r.Get("s1")
	assert.Equal(t, PhaseAwaitingModel, tr.Phase())
}

func TestHooksErrorThenRecover(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	defer r.Close()
	h := NewHooks(r)
	ctx := context.Background()

	require.True(t, h.BeforeModelCall(ctx, "s1"))
	require.True(t, h.BeforeToolCalls(ctx, "s1", 1))
	assert.True(t, h.OnError(ctx, "s1", errors.New("cancelled")))

	tr, _ := r.Get("s1")
	msg, phase := tr.Error()
	assert.Equal(t, "cancelled", msg)
	assert.Equal(t, PhaseExecutingTools, phase)

	require.True(t, h.BeforeModelCall(ctx, "s1"))
	assert.Equal(t, PhaseAwaitingModel, tr.Phase())
}

func TestHooksRejectOutOfOrder(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	defer r.Close()
	h := NewHooks(r)
	ctx := context.Background()

	assert.False(t, h.AfterModelCall(ctx, "unknown", 0))
	assert.False(t, h.AfterToolCalls(ctx, "s1", 0, 0))
	assert.False(t, h.OnComplete(ctx, "s1"))

	tr, _ := r.Get("s1")
	assert.Equal(t, PhaseIdle, tr.Phase())
}
