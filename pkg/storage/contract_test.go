package storage_test

import (
	"context"
	"strings"
	"testing"

	"github.com/harun/warden/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendContract exercises the operation contract every backend must satisfy.
func runBackendContract(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("write and read round trip", func(t *testing.T) {
		res, err := b.Write(ctx, "/docs/readme.md", "line1\nline2\nline3\n", map[string]interface{}{"tool_name": "search"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "/docs/readme.md", res.Path)
		assert.EqualValues(t, 18, res.Size)

		content, found, err := b.Read(ctx, "/docs/readme.md", 0, 0)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "line1\nline2\nline3\n", content)
	})

	t.Run("read with offset and limit", func(t *testing.T) {
		content, found, err := b.Read(ctx, "/docs/readme.md", 1, 1)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "line2\n", content)

		content, _, err = b.Read(ctx, "/docs/readme.md", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, content)
	})

	t.Run("read missing path", func(t *testing.T) {
		content, found, err := b.Read(ctx, "/docs/missing.md", 0, 0)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, content)
	})

	t.Run("relative path rejected", func(t *testing.T) {
		_, err := b.Write(ctx, "docs/relative.md", "x", nil)
		assert.ErrorIs(t, err, storage.ErrInvalidPath)
	})

	t.Run("overwrite keeps creation time and metadata", func(t *testing.T) {
		before, err := b.List(ctx, "/docs/readme.md")
		require.NoError(t, err)
		require.Len(t, before, 1)

		_, err = b.Write(ctx, "/docs/readme.md", "line1\nline2\nline3\n", nil)
		require.NoError(t, err)

		after, err := b.List(ctx, "/docs/readme.md")
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.True(t, before[0].CreatedAt.Equal(after[0].CreatedAt))
		assert.Equal(t, "search", after[0].Metadata["tool_name"])
	})

	t.Run("list respects directory boundaries", func(t *testing.T) {
		_, err := b.Write(ctx, "/scratch/x", "x", nil)
		require.NoError(t, err)
		_, err = b.Write(ctx, "/scratchpad/y", "y", nil)
		require.NoError(t, err)

		infos, err := b.List(ctx, "/scratchpad")
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "/scratchpad/y", infos[0].Path)

		infos, err = b.List(ctx, "/scratch")
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "/scratch/x", infos[0].Path)
	})

	t.Run("list root is sorted", func(t *testing.T) {
		infos, err := b.List(ctx, "/")
		require.NoError(t, err)
		paths := make([]string, 0, len(infos))
		for _, info := range infos {
			paths = append(paths, info.Path)
		}
		assert.Equal(t, []string{"/docs/readme.md", "/scratch/x", "/scratchpad/y"}, paths)
	})

	t.Run("glob", func(t *testing.T) {
		_, err := b.Write(ctx, "/docs/api/spec.json", "{}", nil)
		require.NoError(t, err)

		infos, err := b.Glob(ctx, "**/*.json", "/docs")
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "/docs/api/spec.json", infos[0].Path)

		infos, err = b.Glob(ctx, "*.md", "/")
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "/docs/readme.md", infos[0].Path)

		infos, err = b.Glob(ctx, "/scratch*/*", "/")
		require.NoError(t, err)
		assert.Len(t, infos, 2)

		_, err = b.Glob(ctx, "[", "/")
		assert.Error(t, err)
	})

	t.Run("grep with context", func(t *testing.T) {
		matches, err := b.Grep(ctx, "line2", "/docs", 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "/docs/readme.md", matches[0].Path)
		assert.Equal(t, 2, matches[0].LineNumber)
		assert.Equal(t, "line2", matches[0].Content)
		assert.Equal(t, []string{"line1"}, matches[0].ContextBefore)
		assert.Equal(t, []string{"line3"}, matches[0].ContextAfter)

		_, err = b.Grep(ctx, "(", "/", 0)
		assert.Error(t, err)
	})

	t.Run("edit first occurrence", func(t *testing.T) {
		_, err := b.Write(ctx, "/edit/a.txt", "foo bar foo", nil)
		require.NoError(t, err)

		res, err := b.Edit(ctx, "/edit/a.txt", "foo", "baz", false)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.Replacements)

		content, _, err := b.Read(ctx, "/edit/a.txt", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, "baz bar foo", content)
	})

	t.Run("edit all occurrences", func(t *testing.T) {
		_, err := b.Write(ctx, "/edit/b.txt", "foo bar foo", nil)
		require.NoError(t, err)

		res, err := b.Edit(ctx, "/edit/b.txt", "foo", "qux", true)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Replacements)

		content, _, err := b.Read(ctx, "/edit/b.txt", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, "qux bar qux", content)
	})

	t.Run("edit errors", func(t *testing.T) {
		res, err := b.Edit(ctx, "/edit/missing.txt", "foo", "bar", false)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.False(t, res.Success)
		assert.True(t, strings.Contains(res.Error, "not found"))

		res, err = b.Edit(ctx, "/edit/a.txt", "absent", "bar", false)
		assert.ErrorIs(t, err, storage.ErrStringNotFound)
		assert.NotErrorIs(t, err, storage.ErrNotFound)
		assert.False(t, res.Success)
	})

	t.Run("delete", func(t *testing.T) {
		removed, err := b.Delete(ctx, "/scratch/x")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = b.Delete(ctx, "/scratch/x")
		require.NoError(t, err)
		assert.False(t, removed)

		_, found, err := b.Read(ctx, "/scratch/x", 0, 0)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("content bytes preserved", func(t *testing.T) {
		raw := "abc\xff\xfedef\n\xc3(tail"
		_, err := b.Write(ctx, "/binary/blob", raw, map[string]interface{}{"tool_name": "dump"})
		require.NoError(t, err)

		content, found, err := b.Read(ctx, "/binary/blob", 0, 0)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte(raw), []byte(content))

		infos, err := b.List(ctx, "/binary/")
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.EqualValues(t, len(raw), infos[0].Size)

		_, err = b.Delete(ctx, "/binary/blob")
		require.NoError(t, err)
	})
}
