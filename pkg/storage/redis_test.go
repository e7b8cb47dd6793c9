package storage_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/harun/warden/pkg/storage"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBackend(t *testing.T) (*storage.KVBackend, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	b := storage.NewRedisBackend(client, storage.WithKeyPrefix("test:"))
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestRedisBackend_Contract(t *testing.T) {
	b, _ := newRedisBackend(t)
	runBackendContract(t, b)
}

func TestRedisBackend_KeyLayout(t *testing.T) {
	b, mr := newRedisBackend(t)
	ctx := context.Background()

	_, err := b.Write(ctx, "/large_results/call_1", "payload", nil)
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:file:/large_results/call_1"))
	members, err := mr.ZMembers("test:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"/large_results/call_1"}, members)

	removed, err := b.Delete(ctx, "/large_results/call_1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, mr.Exists("test:file:/large_results/call_1"))
}

func TestRedisBackend_ServerDown(t *testing.T) {
	b, mr := newRedisBackend(t)
	mr.Close()

	res, err := b.Write(context.Background(), "/x", "y", nil)
	assert.Error(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}
