package harness

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harun/warden/pkg/eviction"
	"github.com/harun/warden/pkg/execstate"
	"github.com/harun/warden/pkg/storage"
	"github.com/harun/warden/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func instantAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- fixedNow
	return ch
}

func newTestHarness(t *testing.T, opts Options) *Harness {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	opts.InvokerOptions = append(opts.InvokerOptions,
		toolexecutor.WithTimer(instantAfter),
		toolexecutor.WithJitter(func() float64 { return 0 }),
	)
	h, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func staticTool(name string, output string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        name,
		Description: "Returns a fixed payload",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return output, nil
		},
	}
}

func startTurn(t *testing.T, h *Harness, sessionID string) {
	t.Helper()
	require.True(t, h.Hooks().BeforeModelCall(context.Background(), sessionID))
}

func TestNewRegistersEvictionTools(t *testing.T) {
	h := newTestHarness(t, Options{})

	tools := h.Invoker().ListTools()
	assert.Contains(t, tools, eviction.ReadToolName)
	assert.Contains(t, tools, eviction.ListToolName)
	assert.Equal(t, toolexecutor.DefaultMaxConcurrency, h.Invoker().MaxConcurrency())
}

func TestRunToolsEvictsAndReadsBack(t *testing.T) {
	h := newTestHarness(t, Options{Eviction: eviction.Config{CharThreshold: 100}})

	payload := `{"summary":"ok","data":"` + strings.Repeat("x", 500) + `"}`
	require.NoError(t, h.RegisterTool(staticTool("fetch", payload)))
	require.NoError(t, h.RegisterTool(staticTool("small", "tiny")))

	startTurn(t, h, "s1")
	results, err := h.RunTools(context.Background(), "s1", []toolexecutor.ToolCall{
		{CallID: "call_big", ToolName: "fetch"},
		{CallID: "call_small", ToolName: "small"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	big := results[0]
	assert.True(t, big.Success)
	assert.Equal(t, true, big.Metadata["evicted"])
	path, _ := big.Metadata["evicted_path"].(string)
	assert.Equal(t, "/large_results/call_big_20260314150926", path)
	assert.Contains(t, big.Output(), "Summary: ok")

	assert.Equal(t, "tiny", results[1].Value)
	assert.Nil(t, results[1].Metadata["evicted"])

	tr, ok := h.Sessions().Get("s1")
	require.True(t, ok)
	assert.Equal(t, execstate.PhaseProcessingResults, tr.Phase())
	assert.Equal(t, 1, tr.ToolCallCount())

	// The orchestrator fetches the full content through the same flow.
	startTurn(t, h, "s1")
	read, err := h.RunTools(context.Background(), "s1", []toolexecutor.ToolCall{
		{ToolName: eviction.ReadToolName, Arguments: map[string]interface{}{"path": path}},
	})
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.True(t, read[0].Success)
	assert.Equal(t, payload, read[0].Value)
	assert.Nil(t, read[0].Metadata["evicted"])

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Eviction.ResultsEvicted)
	assert.Equal(t, 1, stats.Sessions)
}

func TestRunToolsRoutesArtifacts(t *testing.T) {
	def := storage.NewMemoryBackend()
	artifacts := storage.NewMemoryBackend()
	h := newTestHarness(t, Options{
		Storage:  def,
		Routes:   []storage.Route{{Prefix: "/large_results/", Backend: artifacts}},
		Eviction: eviction.Config{CharThreshold: 10},
	})
	require.NoError(t, h.RegisterTool(staticTool("fetch", strings.Repeat("y", 50))))

	startTurn(t, h, "s1")
	results, err := h.RunTools(context.Background(), "s1", []toolexecutor.ToolCall{{CallID: "c1", ToolName: "fetch"}})
	require.NoError(t, err)
	path := results[0].Metadata["evicted_path"].(string)

	ctx := context.Background()
	_, found, err := artifacts.Read(ctx, path, 0, 0)
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = def.Read(ctx, path, 0, 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunToolsFailuresAreResults(t *testing.T) {
	h := newTestHarness(t, Options{})
	require.NoError(t, h.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "broken",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}))

	startTurn(t, h, "s1")
	results, err := h.RunTools(context.Background(), "s1", []toolexecutor.ToolCall{
		{ToolName: "broken"},
		{ToolName: "missing"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, toolexecutor.ErrorKindInternal, results[0].ErrorKind)
	assert.Equal(t, toolexecutor.ErrorKindToolNotFound, results[1].ErrorKind)

	tr, _ := h.Sessions().Get("s1")
	last := tr.Transitions()[len(tr.Transitions())-1]
	assert.Equal(t, execstate.PhaseProcessingResults, last.To)
	assert.Equal(t, 0, last.Metadata["succeeded"])
	assert.Equal(t, 2, last.Metadata["failed"])
}

func TestRunToolsCancellationMarksError(t *testing.T) {
	h := newTestHarness(t, Options{})
	started := make(chan struct{})
	require.NoError(t, h.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "slow",
		Description: "Blocks until cancelled",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	startTurn(t, h, "s1")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	results, err := h.RunTools(ctx, "s1", []toolexecutor.ToolCall{{ToolName: "slow"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)

	tr, _ := h.Sessions().Get("s1")
	assert.Equal(t, execstate.PhaseErrored, tr.Phase())
	_, phase := tr.Error()
	assert.Equal(t, execstate.PhaseExecutingTools, phase)
}

func TestCircuitOpensAcrossBatches(t *testing.T) {
	h := newTestHarness(t, Options{
		DefaultTool: toolexecutor.ToolConfig{Timeout: time.Second, MaxRetries: 0},
	})
	calls := 0
	require.NoError(t, h.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "flaky",
		Description: "Fails with a connection error",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			calls++
			return nil, toolexecutor.Errorf(toolexecutor.ErrorKindConnection, "connection reset")
		},
	}))

	for i := 0; i < 3; i++ {
		startTurn(t, h, "s1")
		_, err := h.RunTools(context.Background(), "s1", []toolexecutor.ToolCall{{ToolName: "flaky"}})
		require.NoError(t, err)
	}

	startTurn(t, h, "s1")
	results, err := h.RunTools(context.Background(), "s1", []toolexecutor.ToolCall{{ToolName: "flaky"}})
	require.NoError(t, err)
	assert.Equal(t, toolexecutor.ErrorKindCircuitOpen, results[0].ErrorKind)
	assert.Contains(t, results[0].ErrorMessage, toolexecutor.CircuitOpenHint)
	assert.Equal(t, 3, calls)
}

func TestRetriesAreOneBreakerOutcome(t *testing.T) {
	h := newTestHarness(t, Options{})
	calls := 0
	require.NoError(t, h.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "slow",
		Description: "Always times out",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			calls++
			return nil, toolexecutor.Errorf(toolexecutor.ErrorKindTimeout, "upstream timed out")
		},
	}))
	h.Invoker().Configs().Set("slow", toolexecutor.ToolConfig{
		Timeout:        time.Second,
		MaxRetries:     4,
		BackoffBase:    time.Millisecond,
		RetryableKinds: []toolexecutor.ErrorKind{toolexecutor.ErrorKindTimeout},
	})

	startTurn(t, h, "s1")
	results, err := h.RunTools(context.Background(), "s1", []toolexecutor.ToolCall{{ToolName: "slow"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, 5, calls)
	assert.Equal(t, 4, results[0].RetriesUsed)
	assert.Equal(t, toolexecutor.ErrorKindTimeout, results[0].ErrorKind)
	assert.True(t, results[0].IsRetryable)
}

func TestCloseIsIdempotent(t *testing.T) {
	h, err := New(Options{})
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err = h.RunTools(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
