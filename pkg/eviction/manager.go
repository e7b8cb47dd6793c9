package eviction

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/warden/internal/observability"
	"github.com/harun/warden/internal/tracing"
	"github.com/harun/warden/pkg/storage"
	"github.com/harun/warden/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultCharThreshold is roughly 20k tokens.
	DefaultCharThreshold = 80000
	DefaultPathPrefix    = "/large_results/"

	timestampLayout = "20060102150405"
	// maxPathProbes bounds how far a colliding timestamp is bumped.
	maxPathProbes = 120
)

// Config controls the eviction policy.
type Config struct {
	CharThreshold   int      `json:"char_threshold" mapstructure:"char_threshold" yaml:"char_threshold"`
	PathPrefix      string   `json:"path_prefix" mapstructure:"path_prefix" yaml:"path_prefix"`
	SummaryMaxChars int      `json:"summary_max_chars" mapstructure:"summary_max_chars" yaml:"summary_max_chars"`
	PreviewLines    int      `json:"preview_lines" mapstructure:"preview_lines" yaml:"preview_lines"`
	PreviewChars    int      `json:"preview_chars" mapstructure:"preview_chars" yaml:"preview_chars"`
	ExemptTools     []string `json:"exempt_tools,omitempty" mapstructure:"exempt_tools" yaml:"exempt_tools,omitempty"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		CharThreshold:   DefaultCharThreshold,
		PathPrefix:      DefaultPathPrefix,
		SummaryMaxChars: 200,
		PreviewLines:    5,
		PreviewChars:    500,
		ExemptTools:     []string{ReadToolName},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CharThreshold <= 0 {
		c.CharThreshold = def.CharThreshold
	}
	if c.PathPrefix == "" {
		c.PathPrefix = def.PathPrefix
	}
	c.PathPrefix = storage.NormalizeDir(c.PathPrefix)
	if c.SummaryMaxChars <= 0 {
		c.SummaryMaxChars = def.SummaryMaxChars
	}
	if c.PreviewLines <= 0 {
		c.PreviewLines = def.PreviewLines
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = def.PreviewChars
	}
	if c.ExemptTools == nil {
		c.ExemptTools = def.ExemptTools
	}
	return c
}

// Result is the outcome of applying the policy to one tool output.
type Result struct {
	// Content is what the orchestrator should see: the original text, or a pointer.
	Content        string `json:"content"`
	Evicted        bool   `json:"evicted"`
	Path           string `json:"evicted_path,omitempty"`
	OriginalLength int    `json:"original_length"`
	Summary        string `json:"summary,omitempty"`
	ToolName       string `json:"tool_name"`
}

// Sidecar returns the machine-readable flags attached to an evicted result.
func (r Result) Sidecar() map[string]interface{} {
	if !r.Evicted {
		return nil
	}
	return map[string]interface{}{
		"evicted":         true,
		"evicted_path":    r.Path,
		"original_length": r.OriginalLength,
		"tool_name":       r.ToolName,
	}
}

// Stats counts policy decisions.
type Stats struct {
	ResultsSeen    int64 `json:"results_seen"`
	ResultsEvicted int64 `json:"results_evicted"`
	BytesEvicted   int64 `json:"bytes_evicted"`
	WriteFailures  int64 `json:"write_failures"`
}

// CleanupReport summarises one Cleanup pass.
type CleanupReport struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	// Skipped counts paths whose timestamp suffix does not parse; they are never deleted.
	Skipped int `json:"skipped"`
}

// Manager moves oversized tool output into storage and hands back a pointer.
type Manager struct {
	cfg    Config
	store  storage.Backend
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.Mutex
	stats Stats

	callLocks callLocks
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for artifact paths and cleanup.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a Manager writing artifacts to store.
func New(store storage.Backend, cfg Config, opts ...Option) *Manager {
	observability.EnsureRegistered()

	m := &Manager{
		cfg:    cfg.withDefaults(),
		store:  store,
		now:    time.Now,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "eviction").Logger()
	return m
}

// Config returns the effective policy.
func (m *Manager) Config() Config {
	return m.cfg
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Process applies the size policy to output. Strings are measured as-is, any other
// value as JSON. Content at or above the threshold is written to storage and
// replaced by a pointer; if the write fails the original content is returned.
func (m *Manager) Process(ctx context.Context, toolName, callID string, output interface{}) Result {
	content := toolexecutor.FormatValue(output)
	length := utf8.RuneCountInString(content)
	res := Result{Content: content, OriginalLength: length, ToolName: toolName}

	m.mu.Lock()
	m.stats.ResultsSeen++
	m.mu.Unlock()
	observability.RecordEvictionCheck(toolName)

	if length < m.cfg.CharThreshold || m.exempt(toolName) {
		return res
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)

	p, err := m.writeArtifact(ctx, toolName, callID, content, length)
	if err != nil {
		m.mu.Lock()
		m.stats.WriteFailures++
		m.mu.Unlock()
		observability.RecordEvictionWriteFailure(toolName)
		observability.RecordArtifactAudit(ctx, "evict", toolName, p, "failure", map[string]interface{}{
			"error": err.Error(),
		})
		logger.Error().
			Err(err).
			Str("tool", toolName).
			Int("length", length).
			Msg("Eviction write failed, keeping result in context")
		return res
	}

	res.Evicted = true
	res.Path = p
	res.Summary = Summarize(content, m.cfg)
	res.Content = formatPointer(res)

	m.mu.Lock()
	m.stats.ResultsEvicted++
	m.stats.BytesEvicted += int64(length)
	m.mu.Unlock()
	observability.RecordEviction(toolName, length)
	observability.RecordArtifactAudit(ctx, "evict", toolName, p, "success", map[string]interface{}{
		"original_length": length,
		"call_id":         callID,
	})

	logger.Info().
		Str("tool", toolName).
		Str("path", p).
		Int("length", length).
		Msg("Tool result evicted")

	return res
}

// ProcessResult applies the policy to a successful invoker result and returns a new
// result carrying the pointer and sidecar flags. Failures pass through untouched.
func (m *Manager) ProcessResult(ctx context.Context, result toolexecutor.ExecutionResult) toolexecutor.ExecutionResult {
	if !result.Success {
		return result
	}
	res := m.Process(ctx, result.ToolName, result.CallID, result.Value)
	if !res.Evicted {
		return result
	}

	out := result
	out.Value = res.Content
	out.Metadata = make(map[string]interface{}, len(result.Metadata)+4)
	for k, v := range result.Metadata {
		out.Metadata[k] = v
	}
	for k, v := range res.Sidecar() {
		out.Metadata[k] = v
	}
	return out
}

// ReadEvictedResult returns the stored content at path. Offset and limit are line
// based; zero values return the whole artifact byte for byte.
func (m *Manager) ReadEvictedResult(ctx context.Context, p string, offset, limit int) (string, error) {
	content, found, err := m.store.Read(ctx, p, offset, limit)
	if err != nil {
		return "", fmt.Errorf("failed to read evicted result: %w", err)
	}
	if !found {
		return "", fmt.Errorf("evicted result %s: %w", p, storage.ErrNotFound)
	}
	return content, nil
}

// ListEvicted returns the artifacts under the eviction prefix.
func (m *Manager) ListEvicted(ctx context.Context) ([]storage.FileInfo, error) {
	return m.store.List(ctx, m.cfg.PathPrefix)
}

// Cleanup deletes artifacts under prefix whose path timestamp is older than maxAge.
// An empty prefix means the eviction prefix.
func (m *Manager) Cleanup(ctx context.Context, prefix string, maxAge time.Duration) (CleanupReport, error) {
	if prefix == "" {
		prefix = m.cfg.PathPrefix
	}
	var report CleanupReport

	infos, err := m.store.List(ctx, prefix)
	if err != nil {
		return report, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	now := m.now().UTC()
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		ts, ok := ParseArtifactTime(info.Path)
		if !ok {
			report.Skipped++
			m.logger.Debug().Str("path", info.Path).Msg("Skipping artifact without timestamp suffix")
			continue
		}
		if now.Sub(ts) <= maxAge {
			continue
		}

		removed, err := m.store.Delete(ctx, info.Path)
		if err != nil {
			return report, fmt.Errorf("failed to delete %s: %w", info.Path, err)
		}
		if removed {
			report.Deleted++
			observability.RecordArtifactAudit(ctx, "cleanup:delete", "", info.Path, "success", map[string]interface{}{
				"age_seconds": int64(now.Sub(ts).Seconds()),
			})
		}
	}

	observability.RecordEvictionCleanup(report.Deleted)
	m.logger.Info().
		Str("prefix", prefix).
		Int("scanned", report.Scanned).
		Int("deleted", report.Deleted).
		Int("skipped", report.Skipped).
		Dur("max_age", maxAge).
		Msg("Eviction cleanup finished")

	return report, nil
}

// ArtifactPath builds the storage path for callID at t.
func (m *Manager) ArtifactPath(callID string, t time.Time) string {
	return m.cfg.PathPrefix + sanitizeCallID(callID) + "_" + t.UTC().Format(timestampLayout)
}

// ParseArtifactTime extracts the timestamp suffix of an artifact path.
func ParseArtifactTime(p string) (time.Time, bool) {
	base := path.Base(p)
	idx := strings.LastIndex(base, "_")
	if idx < 0 || idx == len(base)-1 {
		return time.Time{}, false
	}
	suffix := base[idx+1:]
	if len(suffix) != len(timestampLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(timestampLayout, suffix, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// writeArtifact stores content under a path that has never held other content. A
// path already in use is bumped forward one second at a time. Probing and writing
// are serialized per call id so concurrent evictions cannot claim the same path.
func (m *Manager) writeArtifact(ctx context.Context, toolName, callID, content string, length int) (string, error) {
	unlock := m.callLocks.lock(sanitizeCallID(callID))
	defer unlock()

	t := m.now()
	p := m.ArtifactPath(callID, t)
	free := false
	for i := 0; i < maxPathProbes; i++ {
		existing, found, err := m.store.Read(ctx, p, 0, 0)
		if err != nil {
			return p, err
		}
		if !found {
			free = true
			break
		}
		if existing == content {
			return p, nil
		}
		t = t.Add(time.Second)
		p = m.ArtifactPath(callID, t)
	}
	if !free {
		return p, fmt.Errorf("no free artifact path for call %s", callID)
	}

	metadata := map[string]interface{}{
		"tool_name":       toolName,
		"original_length": length,
		"call_id":         callID,
	}
	res, err := m.store.Write(ctx, p, content, metadata)
	if err != nil {
		return p, err
	}
	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "backend reported failure"
		}
		return p, fmt.Errorf("write to %s not applied: %s", p, reason)
	}
	return p, nil
}

// callLocks hands out one mutex per key and forgets it once no caller holds it.
type callLocks struct {
	mu    sync.Mutex
	locks map[string]*callLock
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

func (c *callLocks) lock(key string) func() {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*callLock)
	}
	l, ok := c.locks[key]
	if !ok {
		l = &callLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

func (m *Manager) exempt(toolName string) bool {
	for _, name := range m.cfg.ExemptTools {
		if name == toolName {
			return true
		}
	}
	return false
}

func sanitizeCallID(callID string) string {
	if callID == "" {
		return "call"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '\t', '\n':
			return '-'
		}
		return r
	}, callID)
}

func formatPointer(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Result of %s evicted: %d characters stored at %s]\n", r.ToolName, r.OriginalLength, r.Path)
	fmt.Fprintf(&b, "Summary: %s\n", r.Summary)
	fmt.Fprintf(&b, "Call %s with path %q to retrieve the full content; offset and limit select lines.", ReadToolName, r.Path)
	return b.String()
}
