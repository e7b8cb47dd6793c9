package toolexecutor

import (
	"math"
	"sort"
	"sync"
	"time"
)

// CircuitOpenHint is appended to every circuit-open failure.
const CircuitOpenHint = "try later or use an alternative tool for now."

// ToolConfig is the reliability policy of one tool.
type ToolConfig struct {
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBase    time.Duration `json:"backoff_base" mapstructure:"backoff_base" yaml:"backoff_base"`
	MaxBackoff     time.Duration `json:"max_backoff,omitempty" mapstructure:"max_backoff" yaml:"max_backoff,omitempty"`
	RetryableKinds []ErrorKind   `json:"retryable_kinds" mapstructure:"retryable_kinds" yaml:"retryable_kinds"`
	RecoveryHint   string        `json:"recovery_hint,omitempty" mapstructure:"recovery_hint" yaml:"recovery_hint,omitempty"`

	// RateLimit is in calls per second; zero disables limiting.
	RateLimit float64 `json:"rate_limit,omitempty" mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`
	RateBurst int     `json:"rate_burst,omitempty" mapstructure:"rate_burst" yaml:"rate_burst,omitempty"`
}

// DefaultToolConfig is used for tools without an explicit entry.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		BackoffBase:    time.Second,
		MaxBackoff:     30 * time.Second,
		RetryableKinds: []ErrorKind{ErrorKindTimeout, ErrorKindConnection, ErrorKindRateLimited},
	}
}

// IsRetryable reports whether kind may be retried under this config.
func (c ToolConfig) IsRetryable(kind ErrorKind) bool {
	if kind.terminal() {
		return false
	}
	for _, k := range c.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Backoff returns the sleep before retry number attempt+1: BackoffBase * 2^attempt,
// plus up to 10% jitter (jitter in [0,1)), capped by MaxBackoff when set.
func (c ToolConfig) Backoff(attempt int, jitter float64) time.Duration {
	if c.BackoffBase <= 0 {
		return 0
	}
	delay := float64(c.BackoffBase) * math.Pow(2, float64(attempt))
	delay += delay * 0.1 * jitter
	if c.MaxBackoff > 0 && delay > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(delay)
}

func (c ToolConfig) withDefaults(def ToolConfig) ToolConfig {
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultToolConfig().Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// ConfigRegistry maps tool names to their ToolConfig with one default entry.
type ConfigRegistry struct {
	mu    sync.RWMutex
	def   ToolConfig
	tools map[string]ToolConfig
}

// NewConfigRegistry creates a registry with def as the fallback entry.
func NewConfigRegistry(def ToolConfig) *ConfigRegistry {
	return &ConfigRegistry{
		def:   def.withDefaults(DefaultToolConfig()),
		tools: make(map[string]ToolConfig),
	}
}

// Get returns the config for tool, falling back to the default entry.
func (r *ConfigRegistry) Get(tool string) ToolConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.tools[tool]; ok {
		return cfg
	}
	return r.def
}

// Lookup returns the explicit config for tool, if any.
func (r *ConfigRegistry) Lookup(tool string) (ToolConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tools[tool]
	return cfg, ok
}

func (r *ConfigRegistry) Set(tool string, cfg ToolConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool] = cfg.withDefaults(r.def)
}

func (r *ConfigRegistry) Remove(tool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, tool)
}

func (r *ConfigRegistry) Default() ToolConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// Replace swaps the whole table atomically. Used by config hot reload.
func (r *ConfigRegistry) Replace(def ToolConfig, tools map[string]ToolConfig) {
	def = def.withDefaults(DefaultToolConfig())
	next := make(map[string]ToolConfig, len(tools))
	for name, cfg := range tools {
		next[name] = cfg.withDefaults(def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = def
	r.tools = next
}

// Tools returns the names with an explicit entry, sorted.
func (r *ConfigRegistry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
