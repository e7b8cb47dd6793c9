package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Route maps a path prefix to a backend.
type Route struct {
	Prefix      string  `json:"prefix"`
	Backend     Backend `json:"-"`
	Description string  `json:"description"`
}

// Router is a composite Backend that dispatches each operation by path prefix.
type Router struct {
	mu     sync.RWMutex
	routes []Route
	def    Backend
	logger zerolog.Logger
}

var _ Backend = (*Router)(nil)

// NewRouter creates a router with a default backend and an ordered route table.
func NewRouter(def Backend, routes ...Route) *Router {
	r := &Router{
		def:    def,
		logger: log.Logger.With().Str("component", "storage_router").Logger(),
	}
	for _, route := range routes {
		route.Prefix = NormalizeDir(route.Prefix)
		r.routes = append(r.routes, route)
	}
	return r
}

// Mount installs backend at prefix, replacing an existing route with the same prefix
// in place or appending a new one.
func (r *Router) Mount(prefix string, backend Backend, description string) {
	prefix = NormalizeDir(prefix)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.routes {
		if r.routes[i].Prefix == prefix {
			r.routes[i].Backend = backend
			r.routes[i].Description = description
			r.logger.Info().Str("prefix", prefix).Msg("Storage route replaced")
			return
		}
	}
	r.routes = append(r.routes, Route{Prefix: prefix, Backend: backend, Description: description})
	r.logger.Info().Str("prefix", prefix).Msg("Storage route mounted")
}

// Unmount removes the route at prefix.
func (r *Router) Unmount(prefix string) bool {
	prefix = NormalizeDir(prefix)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.routes {
		if r.routes[i].Prefix == prefix {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return true
		}
	}
	return false
}

// Routes returns a copy of the route table.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Route(nil), r.routes...)
}

// Default returns the fallback backend.
func (r *Router) Default() Backend {
	return r.def
}

// Resolve returns the backend responsible for path.
func (r *Router) Resolve(path string) Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.routes {
		if IsUnder(path, route.Prefix) {
			return route.Backend
		}
	}
	return r.def
}

// backendsFor returns every backend that may hold entries under base: all routes
// nested inside base, then the route containing base or else the default.
func (r *Router) backendsFor(base string) []Backend {
	dir := NormalizeDir(base)

	r.mu.RLock()
	defer r.mu.RUnlock()

	backends := make([]Backend, 0, len(r.routes)+1)
	add := func(b Backend) {
		if b == nil {
			return
		}
		for _, existing := range backends {
			if existing == b {
				return
			}
		}
		backends = append(backends, b)
	}

	var container Backend
	for _, route := range r.routes {
		switch {
		case strings.HasPrefix(dir, route.Prefix):
			if container == nil {
				container = route.Backend
			}
		case strings.HasPrefix(route.Prefix, dir):
			add(route.Backend)
		}
	}
	if container == nil {
		container = r.def
	}
	add(container)
	return backends
}

func (r *Router) Read(ctx context.Context, path string, offset, limit int) (string, bool, error) {
	b := r.Resolve(path)
	if b == nil {
		return "", false, fmt.Errorf("no backend for %s", path)
	}
	return b.Read(ctx, path, offset, limit)
}

func (r *Router) Write(ctx context.Context, path, content string, metadata map[string]interface{}) (WriteResult, error) {
	b := r.Resolve(path)
	if b == nil {
		err := fmt.Errorf("no backend for %s", path)
		return WriteResult{Path: path, Error: err.Error()}, err
	}
	return b.Write(ctx, path, content, metadata)
}

func (r *Router) Delete(ctx context.Context, path string) (bool, error) {
	b := r.Resolve(path)
	if b == nil {
		return false, fmt.Errorf("no backend for %s", path)
	}
	return b.Delete(ctx, path)
}

func (r *Router) Edit(ctx context.Context, path, oldString, newString string, replaceAll bool) (EditResult, error) {
	b := r.Resolve(path)
	if b == nil {
		err := fmt.Errorf("no backend for %s", path)
		return EditResult{Error: err.Error()}, err
	}
	return b.Edit(ctx, path, oldString, newString, replaceAll)
}

// List merges listings from every backend under path, de-duplicated by path.
func (r *Router) List(ctx context.Context, path string) ([]FileInfo, error) {
	return r.fanOutInfos(path, func(b Backend) ([]FileInfo, error) {
		return b.List(ctx, path)
	})
}

// Glob merges glob results from every backend under path, de-duplicated by path.
func (r *Router) Glob(ctx context.Context, pattern, path string) ([]FileInfo, error) {
	return r.fanOutInfos(path, func(b Backend) ([]FileInfo, error) {
		return b.Glob(ctx, pattern, path)
	})
}

// Grep merges matches from every backend under path, de-duplicated by
// (path, line number, content).
func (r *Router) Grep(ctx context.Context, pattern, path string, contextLines int) ([]GrepMatch, error) {
	type matchKey struct {
		path    string
		line    int
		content string
	}

	seen := make(map[matchKey]struct{})
	merged := make([]GrepMatch, 0)
	var errs []error
	for _, b := range r.backendsFor(path) {
		matches, err := b.Grep(ctx, pattern, path, contextLines)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range matches {
			k := matchKey{path: m.Path, line: m.LineNumber, content: m.Content}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, m)
		}
	}
	if len(merged) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(errs) > 0 {
		r.logger.Warn().Err(errors.Join(errs...)).Str("path", path).Msg("Partial grep results")
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Path != merged[j].Path {
			return merged[i].Path < merged[j].Path
		}
		return merged[i].LineNumber < merged[j].LineNumber
	})
	return merged, nil
}

func (r *Router) fanOutInfos(path string, query func(Backend) ([]FileInfo, error)) ([]FileInfo, error) {
	seen := make(map[string]struct{})
	merged := make([]FileInfo, 0)
	var errs []error
	for _, b := range r.backendsFor(path) {
		infos, err := query(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, info := range infos {
			if _, dup := seen[info.Path]; dup {
				continue
			}
			seen[info.Path] = struct{}{}
			merged = append(merged, info)
		}
	}
	if len(merged) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(errs) > 0 {
		r.logger.Warn().Err(errors.Join(errs...)).Str("path", path).Msg("Partial listing results")
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Path < merged[j].Path })
	return merged, nil
}
