package toolexecutor

import (
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ToolCall is one request from the orchestrator to run a tool.
type ToolCall struct {
	CallID    string                 `json:"call_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	// Config overrides the registered policy for this call only.
	Config *ToolConfig `json:"config,omitempty"`
}

// ExecutionResult is the outcome of a ToolCall. Exactly one is produced per call
// unless the caller cancels.
type ExecutionResult struct {
	ToolName     string                 `json:"tool_name"`
	CallID       string                 `json:"call_id"`
	Success      bool                   `json:"success"`
	Value        interface{}            `json:"value,omitempty"`
	ErrorMessage string                 `json:"error,omitempty"`
	ErrorKind    ErrorKind              `json:"error_kind,omitempty"`
	DurationMs   int64                  `json:"duration_ms"`
	RetriesUsed  int                    `json:"retries_used"`
	IsRetryable  bool                   `json:"is_retryable"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Attempts is the number of times the tool was actually invoked.
func (r ExecutionResult) Attempts() int {
	switch r.ErrorKind {
	case ErrorKindValidation, ErrorKindToolNotFound, ErrorKindCircuitOpen:
		return 0
	}
	return r.RetriesUsed + 1
}

// Output renders the value the orchestrator should see.
func (r ExecutionResult) Output() string {
	return FormatValue(r.Value)
}

// Message renders the result for a user. Failures name the tool, the attempts made,
// the elapsed time and the recovery hint.
func (r ExecutionResult) Message() string {
	if r.Success {
		return r.Output()
	}
	elapsed := (time.Duration(r.DurationMs) * time.Millisecond).String()
	if r.ErrorKind == ErrorKindCircuitOpen {
		return fmt.Sprintf("Tool %q is temporarily unavailable (%s): %s", r.ToolName, elapsed, r.ErrorMessage)
	}
	attempts := r.Attempts()
	noun := "attempts"
	if attempts == 1 {
		noun = "attempt"
	}
	return fmt.Sprintf("Tool %q failed after %d %s in %s: %s", r.ToolName, attempts, noun, elapsed, r.ErrorMessage)
}

// FormatValue stringifies a tool value: strings as-is, everything else as JSON.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// NewCallID generates an id for calls that arrive without one.
func NewCallID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("call_%d", time.Now().UnixNano())
	}
	return "call_" + id
}
