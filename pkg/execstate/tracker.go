package execstate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/warden/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transition records one accepted phase change.
type Transition struct {
	From             Phase                  `json:"from"`
	To               Phase                  `json:"to"`
	Timestamp        time.Time              `json:"timestamp"`
	DurationInFromMs int64                  `json:"duration_in_from_ms"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Summary is a point-in-time view of a tracker.
type Summary struct {
	SessionID        string          `json:"session_id"`
	Phase            Phase           `json:"phase"`
	Transitions      int             `json:"transitions"`
	ToolCalls        int             `json:"tool_calls"`
	ModelCalls       int             `json:"model_calls"`
	TotalDurationMs  int64           `json:"total_duration_ms"`
	PhaseDurationsMs map[Phase]int64 `json:"phase_durations_ms"`
	Error            string          `json:"error,omitempty"`
	ErrorPhase       Phase           `json:"error_phase,omitempty"`
	Tags             []string        `json:"tags"`
}

// Tracker is the phase state machine of one session. All methods are safe for
// concurrent use.
type Tracker struct {
	mu sync.Mutex

	sessionID   string
	phase       Phase
	phaseStart  time.Time
	createdAt   time.Time
	transitions []Transition
	toolCalls   int
	modelCalls  int
	errMsg      string
	errorPhase  Phase

	now    func() time.Time
	logger zerolog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

func WithLogger(logger zerolog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker creates a tracker in PhaseIdle.
func NewTracker(sessionID string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		sessionID: sessionID,
		phase:     PhaseIdle,
		now:       time.Now,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With().Str("component", "execstate").Str("session_id", sessionID).Logger()
	t.createdAt = t.now()
	t.phaseStart = t.createdAt
	return t
}

func (t *Tracker) SessionID() string {
	return t.sessionID
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Transitions returns a copy of the transition log.
func (t *Tracker) Transitions() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.transitions...)
}

func (t *Tracker) ToolCallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toolCalls
}

func (t *Tracker) ModelCallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modelCalls
}

// Error returns the recorded error message and the phase it happened in.
func (t *Tracker) Error() (string, Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg, t.errorPhase
}

// TransitionTo moves the tracker to phase. With validate set, a phase that is not
// reachable from the current one is rejected and the state is left unchanged.
// Errored is always accepted.
func (t *Tracker) TransitionTo(phase Phase, metadata map[string]interface{}, validate bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(phase, metadata, validate)
}

// MarkError moves the tracker to Errored and records err with the phase it occurred in.
func (t *Tracker) MarkError(err error, metadata map[string]interface{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	t.errMsg = msg
	t.errorPhase = t.phase

	md := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["error"] = msg
	return t.transitionLocked(PhaseErrored, md, false)
}

func (t *Tracker) transitionLocked(to Phase, metadata map[string]interface{}, validate bool) bool {
	from := t.phase
	if validate && !CanTransition(from, to) {
		observability.RecordPhaseTransition(string(from), string(to), false)
		t.logger.Warn().
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Rejected invalid phase transition")
		return false
	}

	now := t.now()
	spent := now.Sub(t.phaseStart)
	t.transitions = append(t.transitions, Transition{
		From:             from,
		To:               to,
		Timestamp:        now,
		DurationInFromMs: spent.Milliseconds(),
		Metadata:         metadata,
	})
	t.phase = to
	t.phaseStart = now

	switch to {
	case PhaseExecutingTools:
		t.toolCalls++
	case PhaseAwaitingModel:
		t.modelCalls++
	case PhaseIdle:
		if from == PhaseErrored {
			t.errMsg = ""
			t.errorPhase = ""
		}
	}

	observability.RecordPhaseTransition(string(from), string(to), true)
	observability.ObservePhaseDuration(string(from), spent)
	t.logger.Debug().
		Str("from", string(from)).
		Str("to", string(to)).
		Dur("in_from", spent).
		Msg("Phase transition")
	return true
}

// PhaseDurations returns the cumulative time spent in each phase, including the
// time spent so far in the current one.
func (t *Tracker) PhaseDurations() map[Phase]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phaseDurationsLocked()
}

func (t *Tracker) phaseDurationsLocked() map[Phase]time.Duration {
	out := make(map[Phase]time.Duration)
	for _, tr := range t.transitions {
		out[tr.From] += time.Duration(tr.DurationInFromMs) * time.Millisecond
	}
	out[t.phase] += t.now().Sub(t.phaseStart)
	return out
}

// TotalDuration is the time since the tracker was created.
func (t *Tracker) TotalDuration() time.Duration {
	return t.now().Sub(t.createdAt)
}

// Tags returns a compact tag list for tracing backends.
func (t *Tracker) Tags() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tagsLocked()
}

func (t *Tracker) tagsLocked() []string {
	tags := []string{
		"phase:" + string(t.phase),
		fmt.Sprintf("tool_calls:%d", t.toolCalls),
		fmt.Sprintf("model_calls:%d", t.modelCalls),
		fmt.Sprintf("transitions:%d", len(t.transitions)),
	}
	if t.errMsg != "" {
		tags = append(tags, "errored", "error_phase:"+string(t.errorPhase))
	}
	return tags
}

// Summary returns a snapshot of the tracker.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	durations := t.phaseDurationsLocked()
	ms := make(map[Phase]int64, len(durations))
	for p, d := range durations {
		ms[p] = d.Milliseconds()
	}

	return Summary{
		SessionID:        t.sessionID,
		Phase:            t.phase,
		Transitions:      len(t.transitions),
		ToolCalls:        t.toolCalls,
		ModelCalls:       t.modelCalls,
		TotalDurationMs:  t.now().Sub(t.createdAt).Milliseconds(),
		PhaseDurationsMs: ms,
		Error:            t.errMsg,
		ErrorPhase:       t.errorPhase,
		Tags:             t.tagsLocked(),
	}
}

// sortSummaries orders summaries by session id.
func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool { return s[i].SessionID < s[j].SessionID })
}
