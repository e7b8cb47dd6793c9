package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the target path does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStringNotFound is returned by Edit when the search string is absent from the content.
	ErrStringNotFound = errors.New("string not found")
	// ErrInvalidPath is returned for empty or relative paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrEmptySearch is returned by Edit when the search string is empty.
	ErrEmptySearch = errors.New("search string cannot be empty")
)

// Backend is the operation contract shared by every storage kind.
type Backend interface {
	// Read returns the content at path. Offset and limit are line based; a zero
	// limit reads to the end. The boolean is false when the path does not exist.
	Read(ctx context.Context, path string, offset, limit int) (string, bool, error)
	Write(ctx context.Context, path, content string, metadata map[string]interface{}) (WriteResult, error)
	Delete(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, path string) ([]FileInfo, error)
	Glob(ctx context.Context, pattern, path string) ([]FileInfo, error)
	Grep(ctx context.Context, pattern, path string, contextLines int) ([]GrepMatch, error)
	Edit(ctx context.Context, path, oldString, newString string, replaceAll bool) (EditResult, error)
}

// FileInfo describes a stored artifact.
type FileInfo struct {
	Path      string                 `json:"path"`
	Size      int64                  `json:"size"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// GrepMatch is a single matching line.
type GrepMatch struct {
	Path          string   `json:"path"`
	LineNumber    int      `json:"line_number"`
	Content       string   `json:"content"`
	ContextBefore []string `json:"context_before"`
	ContextAfter  []string `json:"context_after"`
}

// WriteResult reports the outcome of a write.
type WriteResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Error   string `json:"error,omitempty"`
}

// EditResult reports the outcome of an edit.
type EditResult struct {
	Success      bool   `json:"success"`
	Replacements int    `json:"replacements"`
	Error        string `json:"error,omitempty"`
}

// Entry is the unit persisted by key-value stores.
type Entry struct {
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Record is an Entry together with its path.
type Record struct {
	Path  string
	Entry Entry
}

// KV is the minimal contract a persistence engine must offer to become a Backend.
type KV interface {
	// Get returns nil without error when the path is missing.
	Get(ctx context.Context, path string) (*Entry, error)
	Put(ctx context.Context, path string, entry Entry) error
	Remove(ctx context.Context, path string) (bool, error)
	// Scan returns every record whose path starts with prefix, in any order.
	Scan(ctx context.Context, prefix string) ([]Record, error)
	Close() error
}

func (r Record) info() FileInfo {
	return FileInfo{
		Path:      r.Path,
		Size:      int64(len(r.Entry.Content)),
		CreatedAt: r.Entry.CreatedAt,
		UpdatedAt: r.Entry.UpdatedAt,
		Metadata:  r.Entry.Metadata,
	}
}
