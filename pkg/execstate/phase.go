package execstate

import "fmt"

// Phase is a step of the orchestrator loop for one session.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseProcessingInput   Phase = "processing_input"
	PhaseAwaitingModel     Phase = "awaiting_model"
	PhaseExecutingTools    Phase = "executing_tools"
	PhaseProcessingResults Phase = "processing_results"
	PhaseStreamingResponse Phase = "streaming_response"
	PhaseCompleted         Phase = "completed"
	PhaseErrored           Phase = "errored"
)

// Phases lists every phase in loop order.
var Phases = []Phase{
	PhaseIdle,
	PhaseProcessingInput,
	PhaseAwaitingModel,
	PhaseExecutingTools,
	PhaseProcessingResults,
	PhaseStreamingResponse,
	PhaseCompleted,
	PhaseErrored,
}

var allowedTransitions = map[Phase][]Phase{
	PhaseIdle:              {PhaseProcessingInput, PhaseErrored},
	PhaseProcessingInput:   {PhaseAwaitingModel, PhaseErrored},
	PhaseAwaitingModel:     {PhaseExecutingTools, PhaseStreamingResponse, PhaseErrored},
	PhaseExecutingTools:    {PhaseProcessingResults, PhaseErrored},
	PhaseProcessingResults: {PhaseAwaitingModel, PhaseStreamingResponse, PhaseErrored},
	PhaseStreamingResponse: {PhaseCompleted, PhaseErrored},
	PhaseCompleted:         {PhaseIdle},
	PhaseErrored:           {PhaseIdle},
}

// CanTransition reports whether from -> to is in the transition table. Errored is
// reachable from every phase.
func CanTransition(from, to Phase) bool {
	if to == PhaseErrored {
		return true
	}
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the phases reachable from p.
func AllowedTransitions(p Phase) []Phase {
	return append([]Phase(nil), allowedTransitions[p]...)
}

// ParsePhase converts a phase name.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Terminal reports whether p ends a turn.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseErrored
}
