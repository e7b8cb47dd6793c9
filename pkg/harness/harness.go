package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/harun/warden/internal/tracing"
	"github.com/harun/warden/pkg/circuitbreaker"
	"github.com/harun/warden/pkg/eviction"
	"github.com/harun/warden/pkg/execstate"
	"github.com/harun/warden/pkg/storage"
	"github.com/harun/warden/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrClosed is returned by RunTools after Close.
var ErrClosed = errors.New("harness closed")

// Options configures a Harness. Zero values select package defaults.
type Options struct {
	MaxConcurrency int
	DefaultTool    toolexecutor.ToolConfig
	Tools          map[string]toolexecutor.ToolConfig
	Breaker        circuitbreaker.Config
	Eviction       eviction.Config
	State          execstate.RegistryConfig

	// Storage is the default backend. An in-memory backend is used when nil.
	Storage storage.Backend
	Routes  []storage.Route

	Logger *zerolog.Logger
	Clock  func() time.Time

	// InvokerOptions are appended after the options the harness sets itself.
	InvokerOptions []toolexecutor.Option
}

// Stats aggregates component counters.
type Stats struct {
	Invoker  toolexecutor.Stats          `json:"invoker"`
	Eviction eviction.Stats              `json:"eviction"`
	Sessions int                         `json:"sessions"`
	Circuits []circuitbreaker.ToolStatus `json:"circuits"`
}

// Harness owns the reliability components and the flow between them. It replaces
// process-wide registries: callers create one, share it, and Close it on shutdown.
type Harness struct {
	router   *storage.Router
	breaker  *circuitbreaker.Breaker
	invoker  *toolexecutor.Invoker
	evictor  *eviction.Manager
	registry *execstate.Registry
	hooks    *execstate.Hooks
	logger   zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds the storage router, circuit breaker, invoker, eviction manager and
// session registry, and registers the evicted-result tools on the invoker.
func New(opts Options) (*Harness, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	def := opts.Storage
	if def == nil {
		def = storage.NewMemoryBackend()
	}
	router := storage.NewRouter(def, opts.Routes...)

	breakerCfg := opts.Breaker
	if breakerCfg.FailureThreshold <= 0 {
		breakerCfg = circuitbreaker.DefaultConfig()
	}
	breaker := circuitbreaker.New(breakerCfg,
		circuitbreaker.WithClock(clock),
		circuitbreaker.WithLogger(logger),
	)

	defaultTool := opts.DefaultTool
	if defaultTool.Timeout <= 0 {
		defaultTool = toolexecutor.DefaultToolConfig()
	}
	configs := toolexecutor.NewConfigRegistry(defaultTool)
	for name, cfg := range opts.Tools {
		configs.Set(name, cfg)
	}

	invOpts := []toolexecutor.Option{
		toolexecutor.WithConfigRegistry(configs),
		toolexecutor.WithBreaker(breaker),
		toolexecutor.WithLogger(logger),
		toolexecutor.WithClock(clock),
	}
	invoker := toolexecutor.New(opts.MaxConcurrency, append(invOpts, opts.InvokerOptions...)...)

	evictor := eviction.New(router, opts.Eviction,
		eviction.WithClock(clock),
		eviction.WithLogger(logger),
	)
	if err := evictor.RegisterTools(invoker); err != nil {
		return nil, fmt.Errorf("failed to register eviction tools: %w", err)
	}

	registry := execstate.NewRegistry(opts.State,
		execstate.WithClock(clock),
		execstate.WithLogger(logger),
	)

	h := &Harness{
		router:   router,
		breaker:  breaker,
		invoker:  invoker,
		evictor:  evictor,
		registry: registry,
		hooks:    execstate.NewHooks(registry),
		logger:   logger.With().Str("component", "harness").Logger(),
		closed:   make(chan struct{}),
	}

	h.logger.Info().
		Int("max_concurrency", invoker.MaxConcurrency()).
		Int("routes", len(router.Routes())).
		Int("eviction_threshold", evictor.Config().CharThreshold).
		Msg("Harness initialized")

	return h, nil
}

func (h *Harness) Router() *storage.Router {
	return h.router
}

func (h *Harness) Breaker() *circuitbreaker.Breaker {
	return h.breaker
}

func (h *Harness) Invoker() *toolexecutor.Invoker {
	return h.invoker
}

func (h *Harness) Eviction() *eviction.Manager {
	return h.evictor
}

// Sessions returns the session tracker registry.
func (h *Harness) Sessions() *execstate.Registry {
	return h.registry
}

func (h *Harness) Hooks() *execstate.Hooks {
	return h.hooks
}

// RegisterTool adds a tool to the invoker.
func (h *Harness) RegisterTool(def toolexecutor.ToolDefinition) error {
	return h.invoker.RegisterTool(def)
}

// RunTools executes one batch of tool calls for sessionID. Results come back in
// call order with oversized successful output evicted to storage. The session
// tracker is moved to ExecutingTools before the batch and to ProcessingResults
// after it; an error is returned only when ctx is cancelled, in which case the
// session is marked errored.
func (h *Harness) RunTools(ctx context.Context, sessionID string, calls []toolexecutor.ToolCall) ([]toolexecutor.ExecutionResult, error) {
	select {
	case <-h.closed:
		return nil, ErrClosed
	default:
	}

	ctx = tracing.NewRunContext(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "harness.RunTools", attribute.Int("warden.calls", len(calls)))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, h.logger)

	h.hooks.BeforeToolCalls(ctx, sessionID, len(calls))

	results, err := h.invoker.ExecuteBatch(ctx, calls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.hooks.OnError(ctx, sessionID, err)
		logger.Warn().Err(err).Int("calls", len(calls)).Msg("Tool batch cancelled")
		return nil, err
	}

	succeeded, failed := 0, 0
	for i := range results {
		results[i] = h.evictor.ProcessResult(ctx, results[i])
		if results[i].Success {
			succeeded++
		} else {
			failed++
		}
	}

	h.hooks.AfterToolCalls(ctx, sessionID, succeeded, failed)
	span.SetAttributes(
		attribute.Int("warden.succeeded", succeeded),
		attribute.Int("warden.failed", failed),
	)

	logger.Debug().
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("Tool batch finished")

	return results, nil
}

// Stats returns a snapshot of every component's counters.
func (h *Harness) Stats() Stats {
	return Stats{
		Invoker:  h.invoker.Stats(),
		Eviction: h.evictor.Stats(),
		Sessions: h.registry.Len(),
		Circuits: h.breaker.Snapshot(),
	}
}

// Close drops tracked sessions and closes every storage backend that holds
// resources. It is safe to call more than once.
func (h *Harness) Close() error {
	var errs []error
	h.closeOnce.Do(func() {
		close(h.closed)
		h.registry.Close()
		errs = h.closeBackends()
		h.logger.Info().Msg("Harness closed")
	})
	return errors.Join(errs...)
}

func (h *Harness) closeBackends() []error {
	var errs []error
	seen := make(map[storage.Backend]bool)
	backends := []storage.Backend{h.router.Default()}
	for _, r := range h.router.Routes() {
		backends = append(backends, r.Backend)
	}
	for _, b := range backends {
		if b == nil || seen[b] {
			continue
		}
		seen[b] = true
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errs
}
