package config

import (
	"fmt"
	"strings"

	"github.com/harun/warden/pkg/toolexecutor"
	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct {
	parser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBackend validates a storage backend description
func (v *Validator) ValidateBackend(b BackendConfig) error {
	switch b.Kind {
	case BackendMemory:
		return nil
	case BackendSQLite:
		if b.Path == "" {
			return fmt.Errorf("sqlite backend requires a path")
		}
		return nil
	case BackendRedis:
		if b.Address == "" {
			return fmt.Errorf("redis backend requires an address")
		}
		if b.DB < 0 {
			return fmt.Errorf("redis db must be >= 0, got %d", b.DB)
		}
		return nil
	}
	return fmt.Errorf("invalid backend kind: %q (must be one of: %s, %s, %s)", b.Kind, BackendMemory, BackendSQLite, BackendRedis)
}

// ValidateRoutePrefix validates a storage route prefix
func (v *Validator) ValidateRoutePrefix(prefix string) error {
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("route prefix must be absolute, got %q", prefix)
	}
	if prefix == "/" {
		return fmt.Errorf("route prefix \"/\" shadows the default backend")
	}
	return nil
}

// ValidateSchedule validates a cron schedule
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := v.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateToolConfig validates one tool policy
func (v *Validator) ValidateToolConfig(name string, cfg toolexecutor.ToolConfig) []error {
	var errs []error
	if cfg.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("tool %s: timeout must be positive", name))
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("tool %s: max_retries must be >= 0", name))
	}
	if cfg.BackoffBase < 0 {
		errs = append(errs, fmt.Errorf("tool %s: backoff_base must be >= 0", name))
	}
	if cfg.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("tool %s: max_backoff must be >= 0", name))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("tool %s: rate_limit must be >= 0", name))
	}
	for _, k := range cfg.RetryableKinds {
		if _, err := toolexecutor.ParseErrorKind(string(k)); err != nil {
			errs = append(errs, fmt.Errorf("tool %s: %w", name, err))
		}
	}
	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	// Validate invoker
	if cfg.Invoker.MaxConcurrency <= 0 {
		errors = append(errors, fmt.Errorf("invoker.max_concurrency must be positive"))
	}
	errors = append(errors, v.ValidateToolConfig("default", cfg.Invoker.DefaultTool)...)

	seen := make(map[string]bool)
	for i, o := range cfg.Invoker.Tools {
		if strings.TrimSpace(o.Name) == "" {
			errors = append(errors, fmt.Errorf("invoker.tools[%d]: name is required", i))
			continue
		}
		if seen[o.Name] {
			errors = append(errors, fmt.Errorf("invoker.tools[%d]: duplicate tool %s", i, o.Name))
		}
		seen[o.Name] = true
		for _, k := range o.RetryableKinds {
			if _, err := toolexecutor.ParseErrorKind(k); err != nil {
				errors = append(errors, fmt.Errorf("tool %s: %w", o.Name, err))
			}
		}
		errors = append(errors, v.ValidateToolConfig(o.Name, o.Apply(cfg.Invoker.DefaultTool))...)
	}

	// Validate breaker
	if cfg.Breaker.FailureThreshold <= 0 {
		errors = append(errors, fmt.Errorf("breaker.failure_threshold must be positive"))
	}
	if cfg.Breaker.Window <= 0 {
		errors = append(errors, fmt.Errorf("breaker.window must be positive"))
	}
	if cfg.Breaker.Cooloff <= 0 {
		errors = append(errors, fmt.Errorf("breaker.cooloff must be positive"))
	}

	// Validate eviction
	if cfg.Eviction.CharThreshold <= 0 {
		errors = append(errors, fmt.Errorf("eviction.char_threshold must be positive"))
	}
	if !strings.HasPrefix(cfg.Eviction.PathPrefix, "/") {
		errors = append(errors, fmt.Errorf("eviction.path_prefix must be absolute"))
	}

	// Validate storage
	if err := v.ValidateBackend(cfg.Storage.Default); err != nil {
		errors = append(errors, fmt.Errorf("storage.default: %w", err))
	}
	for i, r := range cfg.Storage.Routes {
		if err := v.ValidateRoutePrefix(r.Prefix); err != nil {
			errors = append(errors, fmt.Errorf("storage.routes[%d]: %w", i, err))
		}
		if err := v.ValidateBackend(r.Backend); err != nil {
			errors = append(errors, fmt.Errorf("storage.routes[%d]: %w", i, err))
		}
	}

	// Validate state
	if cfg.State.Capacity <= 0 {
		errors = append(errors, fmt.Errorf("state.cache_size must be positive"))
	}
	if cfg.State.IdleTTL < 0 {
		errors = append(errors, fmt.Errorf("state.idle_ttl must be >= 0"))
	}

	// Validate metrics
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errors = append(errors, fmt.Errorf("metrics.listen is required when metrics are enabled"))
	}

	// Validate cleanup
	if cfg.Cleanup.Enabled {
		if err := v.ValidateSchedule(cfg.Cleanup.Schedule); err != nil {
			errors = append(errors, err)
		}
		if cfg.Cleanup.MaxAge <= 0 {
			errors = append(errors, fmt.Errorf("cleanup.max_age must be positive"))
		}
	}

	return errors
}
