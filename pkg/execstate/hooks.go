package execstate

import (
	"context"

	"github.com/harun/warden/internal/tracing"
	"github.com/rs/zerolog/log"
)

// Hooks drives session trackers from orchestrator lifecycle events. Every method
// returns whether the resulting transition was accepted.
type Hooks struct {
	registry *Registry
}

func NewHooks(registry *Registry) *Hooks {
	return &Hooks{registry: registry}
}

func (h *Hooks) Registry() *Registry {
	return h.registry
}

// BeforeModelCall moves the session to AwaitingModel. A session that finished
// its previous turn is reset to Idle and passes through ProcessingInput first.
func (h *Hooks) BeforeModelCall(ctx context.Context, sessionID string) bool {
	t := h.registry.GetOrCreate(sessionID)

	switch t.Phase() {
	case PhaseCompleted, PhaseErrored:
		t.TransitionTo(PhaseIdle, nil, true)
		fallthrough
	case PhaseIdle:
		if !t.TransitionTo(PhaseProcessingInput, nil, true) {
			return false
		}
	}
	return t.TransitionTo(PhaseAwaitingModel, traceMetadata(ctx), true)
}

// AfterModelCall logs the model response shape. The next phase is chosen by
// BeforeToolCalls or OnStreamStart.
func (h *Hooks) AfterModelCall(ctx context.Context, sessionID string, toolCalls int) bool {
	t, ok := h.registry.Get(sessionID)
	if !ok {
		return false
	}
	l := tracing.LoggerFromContext(ctx, log.Logger)
	l.Debug().
		Str("session_id", sessionID).
		Int("tool_calls", toolCalls).
		Str("phase", string(t.Phase())).
		Msg("Model call finished")
	return t.Phase() == PhaseAwaitingModel
}

// BeforeToolCalls moves the session to ExecutingTools.
func (h *Hooks) BeforeToolCalls(ctx context.Context, sessionID string, calls int) bool {
	t := h.registry.GetOrCreate(sessionID)
	md := traceMetadata(ctx)
	md["calls"] = calls
	return t.TransitionTo(PhaseExecutingTools, md, true)
}

// AfterToolCalls moves the session to ProcessingResults.
func (h *Hooks) AfterToolCalls(ctx context.Context, sessionID string, succeeded, failed int) bool {
	t := h.registry.GetOrCreate(sessionID)
	md := traceMetadata(ctx)
	md["succeeded"] = succeeded
	md["failed"] = failed
	return t.TransitionTo(PhaseProcessingResults, md, true)
}

// OnStreamStart moves the session to StreamingResponse.
func (h *Hooks) OnStreamStart(ctx context.Context, sessionID string) bool {
	return h.registry.GetOrCreate(sessionID).TransitionTo(PhaseStreamingResponse, traceMetadata(ctx), true)
}

// OnComplete moves the session to Completed.
func (h *Hooks) OnComplete(ctx context.Context, sessionID string) bool {
	return h.registry.GetOrCreate(sessionID).TransitionTo(PhaseCompleted, traceMetadata(ctx), true)
}

// OnError marks the session as errored. It is accepted from any phase.
func (h *Hooks) OnError(ctx context.Context, sessionID string, err error) bool {
	return h.registry.GetOrCreate(sessionID).MarkError(err, traceMetadata(ctx))
}

func traceMetadata(ctx context.Context) map[string]interface{} {
	md := make(map[string]interface{})
	if id := tracing.GetTraceID(ctx); id != "" {
		md["trace_id"] = id
	}
	if id := tracing.GetRunID(ctx); id != "" {
		md["run_id"] = id
	}
	return md
}
