package daemon

import (
	"fmt"
	"io"

	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/pkg/harness"
	"github.com/harun/warden/pkg/storage"
	"github.com/rs/zerolog"
)

// OpenBackend creates the storage backend described by cfg.
func OpenBackend(cfg config.BackendConfig) (storage.Backend, error) {
	switch cfg.Kind {
	case "", config.BackendMemory:
		return storage.NewMemoryBackend(), nil
	case config.BackendSQLite:
		b, err := storage.NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite backend %s: %w", cfg.Path, err)
		}
		return b, nil
	case config.BackendRedis:
		var opts []storage.RedisOption
		if cfg.KeyPrefix != "" {
			opts = append(opts, storage.WithKeyPrefix(cfg.KeyPrefix))
		}
		return storage.DialRedisBackend(cfg.Address, cfg.Password, cfg.DB, opts...), nil
	}
	return nil, fmt.Errorf("unknown backend kind: %q", cfg.Kind)
}

// BuildHarness opens every configured backend and assembles a harness from cfg.
// Backends opened before a failure are closed again.
func BuildHarness(cfg *config.Config, logger zerolog.Logger) (*harness.Harness, error) {
	var opened []storage.Backend
	fail := func(err error) (*harness.Harness, error) {
		for _, b := range opened {
			if c, ok := b.(io.Closer); ok {
				_ = c.Close()
			}
		}
		return nil, err
	}

	def, err := OpenBackend(cfg.Storage.Default)
	if err != nil {
		return fail(fmt.Errorf("storage.default: %w", err))
	}
	opened = append(opened, def)

	routes := make([]storage.Route, 0, len(cfg.Storage.Routes))
	for _, rc := range cfg.Storage.Routes {
		b, err := OpenBackend(rc.Backend)
		if err != nil {
			return fail(fmt.Errorf("storage route %s: %w", rc.Prefix, err))
		}
		opened = append(opened, b)
		routes = append(routes, storage.Route{
			Prefix:      rc.Prefix,
			Backend:     b,
			Description: rc.Description,
		})
	}

	h, err := harness.New(harness.Options{
		MaxConcurrency: cfg.Invoker.MaxConcurrency,
		DefaultTool:    cfg.Invoker.DefaultTool,
		Tools:          cfg.Invoker.ToolConfigs(),
		Breaker:        cfg.Breaker,
		Eviction:       cfg.Eviction,
		State:          cfg.State,
		Storage:        def,
		Routes:         routes,
		Logger:         &logger,
	})
	if err != nil {
		return fail(err)
	}
	return h, nil
}
