package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/warden/internal/observability"
	"github.com/harun/warden/internal/tracing"
	"github.com/harun/warden/pkg/circuitbreaker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxConcurrency bounds simultaneous tool executions when none is configured.
const DefaultMaxConcurrency = 10

// Stats are running counters for external reporting.
type Stats struct {
	TotalExecutions int64 `json:"total_executions"`
	TotalFailures   int64 `json:"total_failures"`
	TotalRetries    int64 `json:"total_retries"`
}

type toolLimiter struct {
	limit   float64
	burst   int
	limiter *rate.Limiter
}

// Invoker runs registered tools under a concurrency bound, per-tool timeouts,
// retry with exponential backoff, an optional circuit breaker and an optional
// per-tool rate limit. Tool failures are returned as results, never as errors.
type Invoker struct {
	mu       sync.RWMutex
	tools    map[string]*registeredTool
	limiters map[string]*toolLimiter

	sem     *semaphore.Weighted
	maxConc int
	configs *ConfigRegistry
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
	jitter  func() float64

	totalExecutions atomic.Int64
	totalFailures   atomic.Int64
	totalRetries    atomic.Int64
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithConfigRegistry sets the per-tool policy table.
func WithConfigRegistry(configs *ConfigRegistry) Option {
	return func(inv *Invoker) {
		inv.configs = configs
	}
}

// WithBreaker gates each call on the breaker and reports one outcome per call.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(inv *Invoker) {
		inv.breaker = b
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(inv *Invoker) {
		inv.logger = logger
	}
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(inv *Invoker) {
		inv.now = now
	}
}

// WithTimer overrides how backoff sleeps wait.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(inv *Invoker) {
		inv.after = after
	}
}

// WithJitter overrides the jitter source; it must return values in [0,1).
func WithJitter(jitter func() float64) Option {
	return func(inv *Invoker) {
		inv.jitter = jitter
	}
}

// New creates an Invoker allowing maxConcurrency simultaneous executions.
func New(maxConcurrency int, opts ...Option) *Invoker {
	observability.EnsureRegistered()

	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	inv := &Invoker{
		tools:    make(map[string]*registeredTool),
		limiters: make(map[string]*toolLimiter),
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
		maxConc:  maxConcurrency,
		logger:   log.Logger,
		now:      time.Now,
		after:    time.After,
		jitter:   rand.Float64,
	}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.configs == nil {
		inv.configs = NewConfigRegistry(DefaultToolConfig())
	}
	inv.logger = inv.logger.With().Str("component", "tool_invoker").Logger()

	inv.logger.Info().Int("max_concurrency", maxConcurrency).Msg("Tool invoker initialized")

	return inv
}

// Configs returns the policy table. Changes apply to calls started afterwards.
func (inv *Invoker) Configs() *ConfigRegistry {
	return inv.configs
}

// Breaker returns the circuit breaker, or nil.
func (inv *Invoker) Breaker() *circuitbreaker.Breaker {
	return inv.breaker
}

// MaxConcurrency returns the concurrency bound.
func (inv *Invoker) MaxConcurrency() int {
	return inv.maxConc
}

// Stats returns a snapshot of the running counters.
func (inv *Invoker) Stats() Stats {
	return Stats{
		TotalExecutions: inv.totalExecutions.Load(),
		TotalFailures:   inv.totalFailures.Load(),
		TotalRetries:    inv.totalRetries.Load(),
	}
}

// Execute runs call and returns its result. The error is non-nil only when ctx is
// cancelled (while waiting for a slot, a rate-limit token, the tool, or a backoff
// sleep); in that case no result is produced.
func (inv *Invoker) Execute(ctx context.Context, call ToolCall) (ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecutionResult{}, err
	}
	if call.CallID == "" {
		call.CallID = NewCallID()
	}

	// Slots are always acquired under the caller's context.
	if err := inv.sem.Acquire(ctx, 1); err != nil {
		return ExecutionResult{}, err
	}
	defer inv.sem.Release(1)
	observability.AddInflightTools(1)
	defer observability.AddInflightTools(-1)

	ctx = tracing.PropagateToToolCall(ctx, call.ToolName, call.CallID)
	ctx, span := tracing.StartSpan(ctx, "toolexecutor.Execute")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, inv.logger)

	inv.totalExecutions.Add(1)
	start := inv.now()

	result, err := inv.run(ctx, call, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		logger.Debug().Err(err).Msg("Tool execution cancelled")
		return ExecutionResult{}, err
	}

	elapsed := inv.now().Sub(start)
	result.DurationMs = elapsed.Milliseconds()

	observability.RecordToolExecution(call.ToolName, elapsed, result.Success)
	span.SetAttributes(
		attribute.Bool("warden.success", result.Success),
		attribute.Int("warden.retries", result.RetriesUsed),
	)
	if !result.Success {
		inv.totalFailures.Add(1)
		observability.RecordToolError(call.ToolName, string(result.ErrorKind))
		span.SetAttributes(attribute.String("warden.error_kind", string(result.ErrorKind)))
		span.SetStatus(codes.Error, result.ErrorMessage)
		logger.Warn().
			Str("error_kind", string(result.ErrorKind)).
			Int("retries", result.RetriesUsed).
			Dur("duration", elapsed).
			Msg("Tool execution failed")
	} else {
		logger.Debug().
			Int("retries", result.RetriesUsed).
			Dur("duration", elapsed).
			Msg("Tool execution completed")
	}

	return result, nil
}

// ExecuteBatch runs every call concurrently, subject to the concurrency bound, and
// returns results in input order.
func (inv *Invoker) ExecuteBatch(ctx context.Context, calls []ToolCall) ([]ExecutionResult, error) {
	results := make([]ExecutionResult, len(calls))

	var g errgroup.Group
	for i := range calls {
		call := calls[i]
		if call.CallID == "" {
			call.CallID = NewCallID()
		}
		g.Go(func() error {
			result, err := inv.Execute(ctx, call)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (inv *Invoker) configFor(call ToolCall) ToolConfig {
	if call.Config != nil {
		return call.Config.withDefaults(inv.configs.Default())
	}
	return inv.configs.Get(call.ToolName)
}

func (inv *Invoker) run(ctx context.Context, call ToolCall, logger zerolog.Logger) (ExecutionResult, error) {
	cfg := inv.configFor(call)

	tool := inv.lookup(call.ToolName)
	if tool == nil {
		return inv.failure(call, cfg, ErrorKindToolNotFound, fmt.Errorf("tool not found: %s", call.ToolName), 0), nil
	}
	if err := validateParameters(tool.schema, call.Arguments); err != nil {
		return inv.failure(call, cfg, ErrorKindValidation, fmt.Errorf("parameter validation failed: %w", err), 0), nil
	}

	// Retries inside one call are a single outcome for the circuit.
	if inv.breaker != nil {
		if err := inv.breaker.Allow(call.ToolName); err != nil {
			return inv.failure(call, cfg, ErrorKindCircuitOpen, err, 0), nil
		}
	}
	record := func(err error) {
		if inv.breaker != nil {
			inv.breaker.Record(call.ToolName, err)
		}
	}

	for attempt := 0; ; attempt++ {
		value, err := inv.attempt(ctx, tool, call, cfg, attempt)
		if err == nil {
			record(nil)
			return ExecutionResult{
				ToolName:    call.ToolName,
				CallID:      call.CallID,
				Success:     true,
				Value:       value,
				RetriesUsed: attempt,
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ExecutionResult{}, ctxErr
		}

		kind := Classify(err)
		if !cfg.IsRetryable(kind) || attempt >= cfg.MaxRetries {
			record(err)
			return inv.failure(call, cfg, kind, err, attempt), nil
		}

		delay := cfg.Backoff(attempt, inv.jitter())
		inv.totalRetries.Add(1)
		observability.RecordToolRetry(call.ToolName)
		logger.Warn().
			Err(err).
			Str("error_kind", string(kind)).
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Dur("backoff", delay).
			Msg("Tool attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ExecutionResult{}, ctx.Err()
		case <-inv.after(delay):
		}
	}
}

func (inv *Invoker) attempt(ctx context.Context, tool *registeredTool, call ToolCall, cfg ToolConfig, attempt int) (interface{}, error) {
	ctx = ContextWithCallInfo(ctx, CallInfo{CallID: call.CallID, ToolName: call.ToolName, Attempt: attempt})
	if lim := inv.limiter(call.ToolName, cfg); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, NewToolError(ErrorKindRateLimited, fmt.Errorf("rate limit wait failed: %w", err))
		}
	}

	return callHandler(ctx, tool.def.Handler, call.Arguments, cfg.Timeout)
}

// callHandler runs one attempt under its own deadline. A handler that ignores its
// context is abandoned when the deadline passes.
func callHandler(ctx context.Context, handler ToolHandler, params map[string]interface{}, timeout time.Duration) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := handler(attemptCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, NewToolError(ErrorKindTimeout, fmt.Errorf("tool execution timeout after %v: %w", timeout, o.err))
		}
		return o.value, o.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewToolError(ErrorKindTimeout, fmt.Errorf("tool execution timeout after %v", timeout))
	}
}

func (inv *Invoker) limiter(tool string, cfg ToolConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	tl, ok := inv.limiters[tool]
	if !ok || tl.limit != cfg.RateLimit || tl.burst != burst {
		tl = &toolLimiter{
			limit:   cfg.RateLimit,
			burst:   burst,
			limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		}
		inv.limiters[tool] = tl
	}
	return tl.limiter
}

func (inv *Invoker) failure(call ToolCall, cfg ToolConfig, kind ErrorKind, err error, attempt int) ExecutionResult {
	msg := err.Error()
	hint := cfg.RecoveryHint
	if kind == ErrorKindCircuitOpen {
		hint = CircuitOpenHint
	}
	if hint != "" {
		msg = msg + "; " + hint
	}
	return ExecutionResult{
		ToolName:     call.ToolName,
		CallID:       call.CallID,
		Success:      false,
		ErrorMessage: msg,
		ErrorKind:    kind,
		RetriesUsed:  attempt,
		IsRetryable:  cfg.IsRetryable(kind),
	}
}
