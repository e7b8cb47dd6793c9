package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/warden/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrOpen is returned when a call is short-circuited.
var ErrOpen = errors.New("circuit open")

// State is the observable state of a tool's circuit.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// OpenError carries the tool and the time the circuit stays open until.
type OpenError struct {
	Tool  string
	Until time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for tool %s until %s", e.Tool, e.Until.Format(time.RFC3339))
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Window           time.Duration `json:"window" mapstructure:"window" yaml:"window"`
	Cooloff          time.Duration `json:"cooloff" mapstructure:"cooloff" yaml:"cooloff"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Window:           60 * time.Second,
		Cooloff:          30 * time.Second,
	}
}

// ToolStatus is a point-in-time view of one tool's circuit.
type ToolStatus struct {
	Tool        string    `json:"tool"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	OpenedUntil time.Time `json:"opened_until,omitempty"`
}

type toolState struct {
	failures    []time.Time
	openedUntil time.Time
}

// Breaker tracks circuit state for every tool it has seen.
type Breaker struct {
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.Mutex
	tools map[string]*toolState
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// New creates a Breaker. Zero config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Breaker {
	observability.EnsureRegistered()

	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Cooloff <= 0 {
		cfg.Cooloff = def.Cooloff
	}

	b := &Breaker{
		cfg:    cfg,
		now:    time.Now,
		logger: log.Logger,
		tools:  make(map[string]*toolState),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With().Str("component", "circuit_breaker").Logger()
	return b
}

// Config returns the effective thresholds.
func (b *Breaker) Config() Config {
	return b.cfg
}

// Call runs fn unless the tool's circuit is open, then records the outcome.
func (b *Breaker) Call(ctx context.Context, tool string, fn func(ctx context.Context) error) error {
	if err := b.Allow(tool); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		// The caller gave up; this says nothing about the tool's health.
		return err
	}
	b.Record(tool, err)
	return err
}

// Allow reports whether a call to tool may proceed. It returns an *OpenError while the
// circuit is open.
func (b *Breaker) Allow(tool string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st := b.state(tool)
	b.prune(st, now)

	if now.Before(st.openedUntil) {
		observability.RecordCircuitShortCircuit(tool)
		return &OpenError{Tool: tool, Until: st.openedUntil}
	}
	return nil
}

// Record registers the outcome of a call. A nil error closes the circuit.
func (b *Breaker) Record(tool string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st := b.state(tool)

	if err == nil {
		wasOpen := !st.openedUntil.IsZero()
		st.failures = st.failures[:0]
		st.openedUntil = time.Time{}
		if wasOpen {
			b.logger.Info().Str("tool", tool).Msg("Circuit closed")
			observability.SetCircuitOpen(tool, false)
		}
		return
	}

	b.prune(st, now)
	st.failures = append(st.failures, now)
	if len(st.failures) >= b.cfg.FailureThreshold {
		st.openedUntil = now.Add(b.cfg.Cooloff)
		b.logger.Warn().
			Str("tool", tool).
			Int("failures", len(st.failures)).
			Time("opened_until", st.openedUntil).
			Err(err).
			Msg("Circuit opened")
		observability.SetCircuitOpen(tool, true)
		observability.RecordCircuitAudit(context.Background(), tool, "open", map[string]interface{}{
			"failures":     len(st.failures),
			"opened_until": st.openedUntil.Format(time.RFC3339),
		})
	}
}

// State returns the observable state of tool's circuit.
func (b *Breaker) State(tool string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.tools[tool]
	if !ok {
		return StateClosed
	}
	if b.now().Before(st.openedUntil) {
		return StateOpen
	}
	return StateClosed
}

// Snapshot returns the status of every known tool sorted by name.
func (b *Breaker) Snapshot() []ToolStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	statuses := make([]ToolStatus, 0, len(b.tools))
	for name, st := range b.tools {
		b.prune(st, now)
		status := ToolStatus{Tool: name, State: StateClosed, Failures: len(st.failures)}
		if now.Before(st.openedUntil) {
			status.State = StateOpen
			status.OpenedUntil = st.openedUntil
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Tool < statuses[j].Tool })
	return statuses
}

// Reset forgets all state for tool.
func (b *Breaker) Reset(tool string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.tools, tool)
	observability.SetCircuitOpen(tool, false)
}

// state must be called with b.mu held.
func (b *Breaker) state(tool string) *toolState {
	st, ok := b.tools[tool]
	if !ok {
		st = &toolState{}
		b.tools[tool] = st
	}
	return st
}

// prune drops failures outside the window. Must be called with b.mu held.
func (b *Breaker) prune(st *toolState, now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	keep := 0
	for _, ts := range st.failures {
		if ts.After(cutoff) {
			st.failures[keep] = ts
			keep++
		}
	}
	st.failures = st.failures[:keep]
}
