package execstate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseProcessingInput, true},
		{PhaseIdle, PhaseExecutingTools, false},
		{PhaseProcessingInput, PhaseAwaitingModel, true},
		{PhaseAwaitingModel, PhaseExecutingTools, true},
		{PhaseAwaitingModel, PhaseStreamingResponse, true},
		{PhaseAwaitingModel, PhaseCompleted, false},
		{PhaseExecutingTools, PhaseProcessingResults, true},
		{PhaseExecutingTools, PhaseAwaitingModel, false},
		{PhaseProcessingResults, PhaseAwaitingModel, true},
		{PhaseProcessingResults, PhaseStreamingResponse, true},
		{PhaseStreamingResponse, PhaseCompleted, true},
		{PhaseCompleted, PhaseIdle, true},
		{PhaseCompleted, PhaseProcessingInput, false},
		{PhaseErrored, PhaseIdle, true},
		{PhaseErrored, PhaseAwaitingModel, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	for _, p := range Phases {
		assert.True(t, CanTransition(p, PhaseErrored), "%s -> errored", p)
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("executing_tools")
	require.NoError(t, err)
	assert.Equal(t, PhaseExecutingTools, p)

	_, err = ParsePhase("thinking")
	assert.Error(t, err)

	assert.True(t, PhaseCompleted.Terminal())
	assert.False(t, PhaseAwaitingModel.Terminal())
}

func TestTrackerStartsIdle(t *testing.T) {
	tr := NewTracker("s1")
	assert.Equal(t, PhaseIdle, tr.Phase())
	assert.Equal(t, "s1", tr.SessionID())
	assert.Empty(t, tr.Transitions())
}

func TestTrackerRejectsInvalidTransition(t *testing.T) {
	tr := NewTracker("s1")

	assert.False(t, tr.TransitionTo(PhaseExecutingTools, nil, true))
	assert.Equal(t, PhaseIdle, tr.Phase())
	assert.Empty(t, tr.Transitions())
	assert.Equal(t, 0, tr.ToolCallCount())
}

func TestTrackerUnvalidatedTransition(t *testing.T) {
	tr := NewTracker("s1")

	assert.True(t, tr.TransitionTo(PhaseExecutingTools, nil, false))
	assert.Equal(t, PhaseExecutingTools, tr.Phase())
	assert.Equal(t, 1, tr.ToolCallCount())
}

func TestTrackerFullTurn(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker("s1", WithClock(clock.Now))

	steps := []struct {
		to    Phase
		spend time.Duration
	}{
		{PhaseProcessingInput, 10 * time.Millisecond},
		{PhaseAwaitingModel, 20 * time.Millisecond},
		{PhaseExecutingTools, 300 * time.Millisecond},
		{PhaseProcessingResults, 500 * time.Millisecond},
		{PhaseAwaitingModel, 5 * time.Millisecond},
		{PhaseStreamingResponse, 400 * time.Millisecond},
		{PhaseCompleted, 100 * time.Millisecond},
	}
	for _, s := range steps {
		clock.Advance(s.spend)
		require.True(t, tr.TransitionTo(s.to, nil, true), "transition to %s", s.to)
	}

	assert.Equal(t, PhaseCompleted, tr.Phase())
	assert.Equal(t, 1, tr.ToolCallCount())
	assert.Equal(t, 2, tr.ModelCallCount())

	transitions := tr.Transitions()
	require.Len(t, transitions, len(steps))
	assert.Equal(t, PhaseIdle, transitions[0].From)
	assert.Equal(t, int64(10), transitions[0].DurationInFromMs)
	assert.Equal(t, PhaseAwaitingModel, transitions[2].From)
	assert.Equal(t, int64(300), transitions[2].DurationInFromMs)

	durations := tr.PhaseDurations()
	assert.Equal(t, 10*time.Millisecond, durations[PhaseIdle])
	assert.Equal(t, 300*time.Millisecond+400*time.Millisecond, durations[PhaseAwaitingModel])
	assert.Equal(t, 500*time.Millisecond, durations[PhaseExecutingTools])
	assert.Equal(t, time.Duration(0), durations[PhaseCompleted])

	assert.Equal(t, 1335*time.Millisecond, tr.TotalDuration())

	// Back to idle for the next turn.
	assert.True(t, tr.TransitionTo(PhaseIdle, nil, true))
}

func TestTrackerMarkError(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker("s1", WithClock(clock.Now))
	require.True(t, tr.TransitionTo(PhaseProcessingInput, nil, true))
	require.True(t, tr.TransitionTo(PhaseAwaitingModel, nil, true))
	require.True(t, tr.TransitionTo(PhaseExecutingTools, nil, true))

	assert.True(t, tr.MarkError(errors.New("tool crashed"), map[string]interface{}{"tool": "search"}))
	assert.Equal(t, PhaseErrored, tr.Phase())

	msg, phase := tr.Error()
	assert.Equal(t, "tool crashed", msg)
	assert.Equal(t, PhaseExecutingTools, phase)

	last := tr.Transitions()[3]
	assert.Equal(t, "tool crashed", last.Metadata["error"])
	assert.Equal(t, "search", last.Metadata["tool"])

	assert.Contains(t, tr.Tags(), "errored")
	assert.Contains(t, tr.Tags(), "error_phase:executing_tools")

	// Errored only leads back to idle, which clears the error.
	assert.False(t, tr.TransitionTo(PhaseAwaitingModel, nil, true))
	assert.True(t, tr.TransitionTo(PhaseIdle, nil, true))
	msg, _ = tr.Error()
	assert.Empty(t, msg)
}

func TestTrackerMarkErrorNil(t *testing.T) {
	tr := NewTracker("s1")
	assert.True(t, tr.MarkError(nil, nil))
	msg, phase := tr.Error()
	assert.Equal(t, "unknown error", msg)
	assert.Equal(t, PhaseIdle, phase)
}

func TestTrackerSummary(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker("s1", WithClock(clock.Now))
	clock.Advance(time.Second)
	require.True(t, tr.TransitionTo(PhaseProcessingInput, nil, true))
	clock.Advance(2 * time.Second)

	s := tr.Summary()
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, PhaseProcessingInput, s.Phase)
	assert.Equal(t, 1, s.Transitions)
	assert.Equal(t, int64(3000), s.TotalDurationMs)
	assert.Equal(t, int64(1000), s.PhaseDurationsMs[PhaseIdle])
	assert.Equal(t, int64(2000), s.PhaseDurationsMs[PhaseProcessingInput])
	assert.Empty(t, s.Error)
	assert.Contains(t, s.Tags, "phase:processing_input")
}

func TestTrackerConcurrentTransitions(t *testing.T) {
	tr := NewTracker("s1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TransitionTo(PhaseErrored, nil, true)
			tr.TransitionTo(PhaseIdle, nil, true)
			_ = tr.Summary()
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, len(tr.Transitions()), 50)
}
