package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/harun/warden/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, toolexecutor.DefaultMaxConcurrency, cfg.Invoker.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Invoker.DefaultTool.Timeout)
	assert.Equal(t, 2, cfg.Invoker.DefaultTool.MaxRetries)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Window)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Cooloff)
	assert.Equal(t, 80000, cfg.Eviction.CharThreshold)
	assert.Equal(t, "/large_results/", cfg.Eviction.PathPrefix)
	assert.Equal(t, BackendMemory, cfg.Storage.Default.Kind)
	assert.Equal(t, 1000, cfg.State.Capacity)
	assert.Equal(t, "@every 1h", cfg.Cleanup.Schedule)

	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Routes = []RouteConfig{
			{Prefix: "/large_results/", Backend: BackendConfig{Kind: BackendSQLite, Path: "/tmp/w.db"}},
		}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "verbose"
		cfg.Invoker.MaxConcurrency = 0
		cfg.Breaker.FailureThreshold = 0
		cfg.Storage.Default = BackendConfig{Kind: "s3"}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
		assert.Contains(t, err.Error(), "max_concurrency")
		assert.Contains(t, err.Error(), "failure_threshold")
		assert.Contains(t, err.Error(), "invalid backend kind")
	})

	t.Run("invalid tool override", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Invoker.Tools = []ToolOverride{
			{Name: "search", RetryableKinds: []string{"flaky"}},
		}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown error kind")
	})

	t.Run("duplicate tool override", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Invoker.Tools = []ToolOverride{{Name: "search"}, {Name: "search"}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate tool search")
	})

	t.Run("cleanup disabled skips schedule", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cleanup.Enabled = false
		cfg.Cleanup.Schedule = "whenever"
		assert.NoError(t, cfg.Validate())
	})
}

func TestToolOverrideApply(t *testing.T) {
	def := toolexecutor.DefaultToolConfig()

	timeout := 5 * time.Second
	retries := 0
	o := ToolOverride{
		Name:           "search",
		Timeout:        &timeout,
		MaxRetries:     &retries,
		RetryableKinds: []string{"timeout"},
		RecoveryHint:   "use the cached index",
	}

	got := o.Apply(def)
	assert.Equal(t, 5*time.Second, got.Timeout)
	assert.Equal(t, 0, got.MaxRetries)
	assert.Equal(t, def.BackoffBase, got.BackoffBase)
	assert.Equal(t, []toolexecutor.ErrorKind{toolexecutor.ErrorKindTimeout}, got.RetryableKinds)
	assert.Equal(t, "use the cached index", got.RecoveryHint)

	// Unset fields leave the default untouched.
	same := ToolOverride{Name: "noop"}.Apply(def)
	assert.Equal(t, def, same)
}

func TestInvokerToolConfigs(t *testing.T) {
	cfg := DefaultConfig()
	retries := 5
	cfg.Invoker.Tools = []ToolOverride{{Name: "fetch", MaxRetries: &retries}}

	tools := cfg.Invoker.ToolConfigs()
	require.Contains(t, tools, "fetch")
	assert.Equal(t, 5, tools["fetch"].MaxRetries)
	assert.Equal(t, cfg.Invoker.DefaultTool.Timeout, tools["fetch"].Timeout)
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(cfg.String()), &decoded))
	assert.Contains(t, decoded, "invoker")
	assert.Contains(t, decoded, "storage")
}
