package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/harun/warden/internal/observability"
	"github.com/rs/zerolog/log"
)

// KVBackend implements Backend on top of a KV engine. Memory, SQLite and Redis
// backends all share this implementation.
type KVBackend struct {
	name   string
	kv     KV
	now    func() time.Time
	editMu sync.Mutex
}

// NewKVBackend wraps a KV engine. The name labels metrics and logs.
func NewKVBackend(name string, kv KV) *KVBackend {
	observability.EnsureRegistered()
	return &KVBackend{
		name: name,
		kv:   kv,
		now:  time.Now,
	}
}

// Name returns the backend label.
func (b *KVBackend) Name() string {
	return b.name
}

// Close releases the underlying engine.
func (b *KVBackend) Close() error {
	return b.kv.Close()
}

// Read returns the content at path, optionally sliced by lines.
func (b *KVBackend) Read(ctx context.Context, p string, offset, limit int) (string, bool, error) {
	if err := validatePath(p); err != nil {
		return "", false, err
	}
	entry, err := b.kv.Get(ctx, p)
	observability.RecordStorageOperation(b.name, "read", err == nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", p, err)
	}
	if entry == nil {
		return "", false, nil
	}
	if offset <= 0 && limit <= 0 {
		return entry.Content, true, nil
	}
	return sliceLines(entry.Content, offset, limit), true, nil
}

// Write stores content at path, keeping the original creation time on overwrite.
// A nil metadata map keeps the previous metadata.
func (b *KVBackend) Write(ctx context.Context, p, content string, metadata map[string]interface{}) (WriteResult, error) {
	if err := validatePath(p); err != nil {
		return WriteResult{Path: p, Error: err.Error()}, err
	}

	now := b.now().UTC()
	entry := Entry{
		Content:   content,
		Metadata:  copyMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	existing, err := b.kv.Get(ctx, p)
	if err != nil {
		observability.RecordStorageOperation(b.name, "write", false)
		err = fmt.Errorf("failed to write %s: %w", p, err)
		return WriteResult{Path: p, Error: err.Error()}, err
	}
	if existing != nil {
		entry.CreatedAt = existing.CreatedAt
		if metadata == nil {
			entry.Metadata = existing.Metadata
		}
	}

	if err := b.kv.Put(ctx, p, entry); err != nil {
		observability.RecordStorageOperation(b.name, "write", false)
		err = fmt.Errorf("failed to write %s: %w", p, err)
		return WriteResult{Path: p, Error: err.Error()}, err
	}
	observability.RecordStorageOperation(b.name, "write", true)

	log.Debug().
		Str("backend", b.name).
		Str("path", p).
		Int("size", len(content)).
		Msg("Artifact written")

	return WriteResult{Success: true, Path: p, Size: int64(len(content))}, nil
}

// Delete removes path. It reports whether anything was removed.
func (b *KVBackend) Delete(ctx context.Context, p string) (bool, error) {
	if err := validatePath(p); err != nil {
		return false, err
	}
	removed, err := b.kv.Remove(ctx, p)
	observability.RecordStorageOperation(b.name, "delete", err == nil)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return removed, nil
}

// List returns every artifact under dir, sorted by path.
func (b *KVBackend) List(ctx context.Context, dir string) ([]FileInfo, error) {
	records, err := b.scan(ctx, dir)
	observability.RecordStorageOperation(b.name, "list", err == nil)
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(records))
	for _, r := range records {
		infos = append(infos, r.info())
	}
	return infos, nil
}

// Glob returns artifacts under dir whose path matches pattern. Relative patterns are
// matched against the path below dir; absolute patterns against the full path.
func (b *KVBackend) Glob(ctx context.Context, pattern, dir string) ([]FileInfo, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	records, err := b.scan(ctx, dir)
	observability.RecordStorageOperation(b.name, "glob", err == nil)
	if err != nil {
		return nil, err
	}

	base := NormalizeDir(dir)
	infos := make([]FileInfo, 0)
	for _, r := range records {
		candidate := strings.TrimPrefix(r.Path, base)
		if strings.HasPrefix(pattern, "/") {
			candidate = r.Path
		}
		ok, err := doublestar.Match(pattern, candidate)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if !ok && !strings.HasPrefix(pattern, "/") && !strings.Contains(pattern, "/") {
			// Bare file patterns like "*.json" also match by base name.
			ok, _ = doublestar.Match(pattern, path.Base(r.Path))
		}
		if ok {
			infos = append(infos, r.info())
		}
	}
	return infos, nil
}

// Grep searches artifacts under dir for lines matching the regular expression pattern.
func (b *KVBackend) Grep(ctx context.Context, pattern, dir string, contextLines int) ([]GrepMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid grep pattern %q: %w", pattern, err)
	}
	records, err := b.scan(ctx, dir)
	observability.RecordStorageOperation(b.name, "grep", err == nil)
	if err != nil {
		return nil, err
	}

	matches := make([]GrepMatch, 0)
	for _, r := range records {
		matches = append(matches, grepContent(r.Path, r.Entry.Content, re, contextLines)...)
	}
	return matches, nil
}

// Edit replaces oldString with newString in the artifact at path.
func (b *KVBackend) Edit(ctx context.Context, p, oldString, newString string, replaceAll bool) (EditResult, error) {
	if err := validatePath(p); err != nil {
		return EditResult{Error: err.Error()}, err
	}
	if oldString == "" {
		return EditResult{Error: ErrEmptySearch.Error()}, ErrEmptySearch
	}

	b.editMu.Lock()
	defer b.editMu.Unlock()

	entry, err := b.kv.Get(ctx, p)
	if err != nil {
		err = fmt.Errorf("failed to read %s: %w", p, err)
		return EditResult{Error: err.Error()}, err
	}
	if entry == nil {
		err := fmt.Errorf("%s: %w", p, ErrNotFound)
		return EditResult{Error: err.Error()}, err
	}

	count := strings.Count(entry.Content, oldString)
	if count == 0 {
		err := fmt.Errorf("%s: %w", p, ErrStringNotFound)
		return EditResult{Error: err.Error()}, err
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(entry.Content, oldString, newString)
	} else {
		updated = strings.Replace(entry.Content, oldString, newString, 1)
		count = 1
	}

	if _, err := b.Write(ctx, p, updated, nil); err != nil {
		return EditResult{Error: err.Error()}, err
	}
	observability.RecordStorageOperation(b.name, "edit", true)

	return EditResult{Success: true, Replacements: count}, nil
}

func (b *KVBackend) scan(ctx context.Context, dir string) ([]Record, error) {
	base := NormalizeDir(dir)
	prefix := strings.TrimSuffix(base, "/")
	records, err := b.kv.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", base, err)
	}

	filtered := records[:0]
	for _, r := range records {
		if IsUnder(r.Path, base) {
			filtered = append(filtered, r)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Path < filtered[j].Path })
	return filtered, nil
}

func sliceLines(content string, offset, limit int) string {
	lines := strings.SplitAfter(content, "\n")
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return strings.Join(lines[offset:end], "")
}

func grepContent(p, content string, re *regexp.Regexp, contextLines int) []GrepMatch {
	lines := strings.Split(content, "\n")
	var matches []GrepMatch
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		m := GrepMatch{
			Path:          p,
			LineNumber:    i + 1,
			Content:       line,
			ContextBefore: []string{},
			ContextAfter:  []string{},
		}
		if contextLines > 0 {
			start := i - contextLines
			if start < 0 {
				start = 0
			}
			end := i + 1 + contextLines
			if end > len(lines) {
				end = len(lines)
			}
			m.ContextBefore = append(m.ContextBefore, lines[start:i]...)
			m.ContextAfter = append(m.ContextAfter, lines[i+1:end]...)
		}
		matches = append(matches, m)
	}
	return matches
}

func copyMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
