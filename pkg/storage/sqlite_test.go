package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/harun/warden/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackend_Contract(t *testing.T) {
	b, err := storage.NewSQLiteBackend(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	defer b.Close()

	runBackendContract(t, b)
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "artifacts.db")
	ctx := context.Background()

	b, err := storage.NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	_, err = b.Write(ctx, "/large_results/call_1_20260101120000", "payload", map[string]interface{}{"original_length": 7})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	reopened, err := storage.NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	content, found, err := reopened.Read(ctx, "/large_results/call_1_20260101120000", 0, 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "payload", content)

	infos, err := reopened.List(ctx, "/large_results")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.EqualValues(t, 7, infos[0].Metadata["original_length"])
}

func TestSQLiteBackend_RequiresPath(t *testing.T) {
	_, err := storage.NewSQLiteBackend("")
	assert.Error(t, err)
}
