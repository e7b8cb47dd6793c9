package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/harun/warden/pkg/circuitbreaker"
)

// ErrorKind classifies a failed tool call. Retry policy is expressed in kinds,
// never in concrete error types.
type ErrorKind string

const (
	ErrorKindNone         ErrorKind = ""
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindConnection   ErrorKind = "connection"
	ErrorKindRateLimited  ErrorKind = "rate_limited"
	ErrorKindCircuitOpen  ErrorKind = "circuit_open"
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindToolNotFound ErrorKind = "tool_not_found"
	ErrorKindInternal     ErrorKind = "internal"
)

var allKinds = []ErrorKind{
	ErrorKindTimeout,
	ErrorKindConnection,
	ErrorKindRateLimited,
	ErrorKindCircuitOpen,
	ErrorKindValidation,
	ErrorKindToolNotFound,
	ErrorKindInternal,
}

// ParseErrorKind converts a configured kind name.
func ParseErrorKind(s string) (ErrorKind, error) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return ErrorKindNone, fmt.Errorf("unknown error kind %q", s)
}

// terminal kinds end the retry loop no matter what a ToolConfig says.
func (k ErrorKind) terminal() bool {
	switch k {
	case ErrorKindCircuitOpen, ErrorKindValidation, ErrorKindToolNotFound:
		return true
	}
	return false
}

// ToolError lets a handler state the kind of its failure explicitly.
type ToolError struct {
	Kind ErrorKind
	Err  error
}

// NewToolError wraps err with kind.
func NewToolError(kind ErrorKind, err error) *ToolError {
	return &ToolError{Kind: kind, Err: err}
}

// Errorf builds a ToolError from a format string.
func Errorf(kind ErrorKind, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Classify maps an error returned by a tool attempt onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.Kind != ErrorKindNone {
		return toolErr.Kind
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorKindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorKindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorKindConnection
	}

	return ErrorKindInternal
}
