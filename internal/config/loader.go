package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	configDirName  = ".warden"
	configFileName = "warden.json"
	envPrefix      = "WARDEN"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. Environment variables prefixed with
// WARDEN_ override file values (WARDEN_LOGGING_LEVEL sets logging.level).
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register scalar keys so AutomaticEnv can override them without a file entry.
	bindDefaults(v)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.applyDefaultPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) applyDefaultPaths(cfg *Config) error {
	// Set data directory if not specified
	if cfg.DataDir == "" {
		dir := filepath.Dir(l.GetConfigPath())
		if l.configPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			dir = filepath.Join(home, configDirName)
		}
		cfg.DataDir = dir
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "warden.log")
	}
	if cfg.PIDFile == "" {
		cfg.PIDFile = filepath.Join(cfg.DataDir, "warden.pid")
	}
	if cfg.AuditFile == "" {
		cfg.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}

	// Relative sqlite paths live under the data directory
	resolve := func(b *BackendConfig) {
		if b.Kind == BackendSQLite && b.Path != "" && !filepath.IsAbs(b.Path) {
			b.Path = filepath.Join(cfg.DataDir, b.Path)
		}
	}
	resolve(&cfg.Storage.Default)
	for i := range cfg.Storage.Routes {
		resolve(&cfg.Storage.Routes[i].Backend)
	}
	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

func bindDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.console", def.Logging.Console)
	v.SetDefault("invoker.max_concurrency", def.Invoker.MaxConcurrency)
	v.SetDefault("eviction.char_threshold", def.Eviction.CharThreshold)
	v.SetDefault("storage.default.kind", def.Storage.Default.Kind)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.listen", def.Metrics.Listen)
	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("cleanup.enabled", def.Cleanup.Enabled)
	v.SetDefault("cleanup.schedule", def.Cleanup.Schedule)
}
