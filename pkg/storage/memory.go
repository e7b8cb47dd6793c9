package storage

import (
	"context"
	"strings"
	"sync"
)

// memoryKV keeps entries in process memory for the lifetime of the process.
type memoryKV struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend creates an ephemeral in-memory backend.
func NewMemoryBackend() *KVBackend {
	return NewKVBackend("memory", &memoryKV{entries: make(map[string]Entry)})
}

func (m *memoryKV) Get(_ context.Context, path string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[path]
	if !ok {
		return nil, nil
	}
	entry.Metadata = copyMetadata(entry.Metadata)
	return &entry, nil
}

func (m *memoryKV) Put(_ context.Context, path string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Metadata = copyMetadata(entry.Metadata)
	m.entries[path] = entry
	return nil
}

func (m *memoryKV) Remove(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[path]; !ok {
		return false, nil
	}
	delete(m.entries, path)
	return true, nil
}

func (m *memoryKV) Scan(_ context.Context, prefix string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0)
	for path, entry := range m.entries {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		entry.Metadata = copyMetadata(entry.Metadata)
		records = append(records, Record{Path: path, Entry: entry})
	}
	return records, nil
}

func (m *memoryKV) Close() error {
	return nil
}
