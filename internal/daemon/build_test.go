package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name     string
		cfg      config.BackendConfig
		wantName string
	}{
		{name: "empty kind", cfg: config.BackendConfig{}, wantName: "memory"},
		{name: "memory", cfg: config.BackendConfig{Kind: config.BackendMemory}, wantName: "memory"},
		{name: "sqlite", cfg: config.BackendConfig{Kind: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "w.db")}, wantName: "sqlite"},
		{name: "redis", cfg: config.BackendConfig{Kind: config.BackendRedis, Address: mr.Addr(), KeyPrefix: "test:"}, wantName: "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := OpenBackend(tt.cfg)
			require.NoError(t, err)
			kv, ok := b.(*storage.KVBackend)
			require.True(t, ok)
			defer kv.Close()
			assert.Equal(t, tt.wantName, kv.Name())

			ctx := context.Background()
			_, err = b.Write(ctx, "/probe", "ok", nil)
			require.NoError(t, err)
			content, found, err := b.Read(ctx, "/probe", 0, 0)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "ok", content)
		})
	}

	_, err := OpenBackend(config.BackendConfig{Kind: "etcd"})
	assert.Error(t, err)
}

func TestBuildHarnessRoutes(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Routes = []config.RouteConfig{
		{
			Prefix:      "/large_results/",
			Description: "evicted tool output",
			Backend:     config.BackendConfig{Kind: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "artifacts.db")},
		},
	}
	retries := 4
	cfg.Invoker.Tools = []config.ToolOverride{{Name: "search", MaxRetries: &retries}}

	h, err := BuildHarness(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer h.Close()

	routes := h.Router().Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "evicted tool output", routes[0].Description)

	kv, ok := h.Router().Resolve("/large_results/x_20260101000000").(*storage.KVBackend)
	require.True(t, ok)
	assert.Equal(t, "sqlite", kv.Name())

	assert.Equal(t, 4, h.Invoker().Configs().Get("search").MaxRetries)
	assert.Equal(t, cfg.Invoker.DefaultTool.MaxRetries, h.Invoker().Configs().Get("other").MaxRetries)
}

func TestBuildHarnessBadRoute(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Routes = []config.RouteConfig{
		{Prefix: "/x/", Backend: config.BackendConfig{Kind: "nope"}},
	}

	_, err := BuildHarness(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/x/")
}
