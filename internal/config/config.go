package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/warden/pkg/circuitbreaker"
	"github.com/harun/warden/pkg/eviction"
	"github.com/harun/warden/pkg/execstate"
	"github.com/harun/warden/pkg/toolexecutor"
)

// Backend kinds accepted in storage configuration.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config represents the main warden configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`

	// PID file of the running daemon
	PIDFile string `json:"pid_file" mapstructure:"pid_file" yaml:"pid_file"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging" yaml:"logging"`

	// Tool invocation policy
	Invoker InvokerConfig `json:"invoker" mapstructure:"invoker" yaml:"invoker"`

	// Circuit breaker thresholds
	Breaker circuitbreaker.Config `json:"breaker" mapstructure:"breaker" yaml:"breaker"`

	// Large result eviction
	Eviction eviction.Config `json:"eviction" mapstructure:"eviction" yaml:"eviction"`

	// Storage backends and routes
	Storage StorageConfig `json:"storage" mapstructure:"storage" yaml:"storage"`

	// Session tracker bounds
	State execstate.RegistryConfig `json:"state" mapstructure:"state" yaml:"state"`

	// Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics" yaml:"metrics"`

	// OpenTelemetry
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing" yaml:"tracing"`

	// Scheduled artifact cleanup
	Cleanup CleanupConfig `json:"cleanup" mapstructure:"cleanup" yaml:"cleanup"`

	// Audit log of artifact, circuit and config events
	AuditFile string `json:"audit_file" mapstructure:"audit_file" yaml:"audit_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" yaml:"level"`
	File      string `json:"file" mapstructure:"file" yaml:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age" yaml:"max_age"`    // days
	Compress  bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
	Console   bool   `json:"console" mapstructure:"console" yaml:"console"`
}

// InvokerConfig holds the invoker concurrency bound and tool policies
type InvokerConfig struct {
	MaxConcurrency int                     `json:"max_concurrency" mapstructure:"max_concurrency" yaml:"max_concurrency"`
	DefaultTool    toolexecutor.ToolConfig `json:"default_tool" mapstructure:"default_tool" yaml:"default_tool"`
	Tools          []ToolOverride          `json:"tools" mapstructure:"tools" yaml:"tools"`
}

// ToolOverride adjusts the default tool policy for one tool. Unset fields keep the
// default's value.
type ToolOverride struct {
	Name           string         `json:"name" mapstructure:"name" yaml:"name"`
	Timeout        *time.Duration `json:"timeout,omitempty" mapstructure:"timeout" yaml:"timeout,omitempty"`
	MaxRetries     *int           `json:"max_retries,omitempty" mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	BackoffBase    *time.Duration `json:"backoff_base,omitempty" mapstructure:"backoff_base" yaml:"backoff_base,omitempty"`
	MaxBackoff     *time.Duration `json:"max_backoff,omitempty" mapstructure:"max_backoff" yaml:"max_backoff,omitempty"`
	RetryableKinds []string       `json:"retryable_kinds,omitempty" mapstructure:"retryable_kinds" yaml:"retryable_kinds,omitempty"`
	RecoveryHint   string         `json:"recovery_hint,omitempty" mapstructure:"recovery_hint" yaml:"recovery_hint,omitempty"`
	RateLimit      *float64       `json:"rate_limit,omitempty" mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`
	RateBurst      *int           `json:"rate_burst,omitempty" mapstructure:"rate_burst" yaml:"rate_burst,omitempty"`
}

// Apply returns def with the override's set fields replaced.
func (o ToolOverride) Apply(def toolexecutor.ToolConfig) toolexecutor.ToolConfig {
	cfg := def
	cfg.RetryableKinds = append([]toolexecutor.ErrorKind(nil), def.RetryableKinds...)
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.BackoffBase != nil {
		cfg.BackoffBase = *o.BackoffBase
	}
	if o.MaxBackoff != nil {
		cfg.MaxBackoff = *o.MaxBackoff
	}
	if o.RetryableKinds != nil {
		cfg.RetryableKinds = make([]toolexecutor.ErrorKind, 0, len(o.RetryableKinds))
		for _, k := range o.RetryableKinds {
			if kind, err := toolexecutor.ParseErrorKind(k); err == nil {
				cfg.RetryableKinds = append(cfg.RetryableKinds, kind)
			}
		}
	}
	if o.RecoveryHint != "" {
		cfg.RecoveryHint = o.RecoveryHint
	}
	if o.RateLimit != nil {
		cfg.RateLimit = *o.RateLimit
	}
	if o.RateBurst != nil {
		cfg.RateBurst = *o.RateBurst
	}
	return cfg
}

// ToolConfigs resolves every override against the default tool policy.
func (c InvokerConfig) ToolConfigs() map[string]toolexecutor.ToolConfig {
	out := make(map[string]toolexecutor.ToolConfig, len(c.Tools))
	for _, o := range c.Tools {
		out[o.Name] = o.Apply(c.DefaultTool)
	}
	return out
}

// BackendConfig describes one storage backend
type BackendConfig struct {
	Kind      string `json:"kind" mapstructure:"kind" yaml:"kind"` // memory, sqlite, redis
	Path      string `json:"path,omitempty" mapstructure:"path" yaml:"path,omitempty"`
	Address   string `json:"address,omitempty" mapstructure:"address" yaml:"address,omitempty"`
	Password  string `json:"password,omitempty" mapstructure:"password" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" mapstructure:"db" yaml:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty" mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
}

// RouteConfig mounts a backend at a path prefix
type RouteConfig struct {
	Prefix      string        `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
	Description string        `json:"description,omitempty" mapstructure:"description" yaml:"description,omitempty"`
	Backend     BackendConfig `json:"backend" mapstructure:"backend" yaml:"backend"`
}

// StorageConfig holds the default backend and ordered routes
type StorageConfig struct {
	Default BackendConfig `json:"default" mapstructure:"default" yaml:"default"`
	Routes  []RouteConfig `json:"routes" mapstructure:"routes" yaml:"routes"`
}

// MetricsConfig holds the Prometheus listener configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen" yaml:"listen"`
	Path    string `json:"path" mapstructure:"path" yaml:"path"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name" yaml:"service_name"`
}

// CleanupConfig schedules deletion of old evicted artifacts
type CleanupConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Schedule string        `json:"schedule" mapstructure:"schedule" yaml:"schedule"` // cron spec
	Prefix   string        `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
	MaxAge   time.Duration `json:"max_age" mapstructure:"max_age" yaml:"max_age"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
			Console:   true,
		},
		Invoker: InvokerConfig{
			MaxConcurrency: toolexecutor.DefaultMaxConcurrency,
			DefaultTool:    toolexecutor.DefaultToolConfig(),
			Tools:          []ToolOverride{},
		},
		Breaker:  circuitbreaker.DefaultConfig(),
		Eviction: eviction.DefaultConfig(),
		Storage: StorageConfig{
			Default: BackendConfig{Kind: BackendMemory},
			Routes:  []RouteConfig{},
		},
		State: execstate.DefaultRegistryConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "warden",
		},
		Cleanup: CleanupConfig{
			Enabled:  true,
			Schedule: "@every 1h",
			Prefix:   eviction.DefaultPathPrefix,
			MaxAge:   24 * time.Hour,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
