package execstate

import (
	"sync"
	"time"

	"github.com/harun/warden/internal/observability"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCapacity = 1000
	DefaultIdleTTL  = time.Hour
)

// RegistryConfig bounds the number of tracked sessions.
type RegistryConfig struct {
	// Capacity is the maximum number of trackers kept. The least recently accessed
	// tracker is dropped when it is exceeded.
	Capacity int `json:"cache_size" mapstructure:"cache_size" yaml:"cache_size"`
	// IdleTTL drops trackers not accessed for this long. Zero disables expiry.
	IdleTTL time.Duration `json:"idle_ttl" mapstructure:"idle_ttl" yaml:"idle_ttl"`
}

// DefaultRegistryConfig returns the default bounds.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Capacity: DefaultCapacity,
		IdleTTL:  DefaultIdleTTL,
	}
}

// Registry maps session ids to trackers with bounded size. Idle trackers are
// dropped lazily when the registry is next accessed.
type Registry struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *registryEntry]
	opts     []TrackerOption
	logger   zerolog.Logger
	capacity int
	idleTTL  time.Duration
	now      func() time.Time
}

type registryEntry struct {
	tracker    *Tracker
	lastAccess time.Time
}

// NewRegistry creates a registry. opts are applied to every tracker it creates.
func NewRegistry(cfg RegistryConfig, opts ...TrackerOption) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.IdleTTL < 0 {
		cfg.IdleTTL = 0
	}

	r := &Registry{
		opts:     opts,
		logger:   log.With().Str("component", "execstate_registry").Logger(),
		capacity: cfg.Capacity,
		idleTTL:  cfg.IdleTTL,
		now:      time.Now,
	}
	// Only fails for a non-positive size.
	r.cache, _ = lru.NewWithEvict[string, *registryEntry](cfg.Capacity, r.onEvict)
	return r
}

func (r *Registry) onEvict(sessionID string, e *registryEntry) {
	r.logger.Debug().
		Str("session_id", sessionID).
		Str("phase", string(e.tracker.Phase())).
		Msg("Dropped session tracker")
}

// Get returns the tracker for sessionID and refreshes its idle timer.
func (r *Registry) Get(sessionID string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, false
	}
	return e.tracker, true
}

// GetOrCreate returns the tracker for sessionID, creating one in PhaseIdle when
// none is tracked.
func (r *Registry) GetOrCreate(sessionID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.lookup(sessionID); ok {
		return e.tracker
	}
	e := &registryEntry{tracker: NewTracker(sessionID, r.opts...), lastAccess: r.now()}
	r.cache.Add(sessionID, e)
	observability.SetTrackedSessions(r.cache.Len())
	return e.tracker
}

// Clear drops the tracker for sessionID.
func (r *Registry) Clear(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.cache.Remove(sessionID)
	observability.SetTrackedSessions(r.cache.Len())
	return removed
}

// Len returns the number of live trackers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneExpired()
	return r.cache.Len()
}

func (r *Registry) Capacity() int {
	return r.capacity
}

// Snapshot returns summaries of all live trackers ordered by session id.
func (r *Registry) Snapshot() []Summary {
	r.mu.Lock()
	r.pruneExpired()
	entries := r.cache.Values()
	r.mu.Unlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.tracker.Summary())
	}
	sortSummaries(out)
	return out
}

// Close drops every tracker.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
	observability.SetTrackedSessions(0)
}

// lookup returns a live entry and marks it accessed. Callers hold r.mu.
func (r *Registry) lookup(sessionID string) (*registryEntry, bool) {
	e, ok := r.cache.Get(sessionID)
	if !ok {
		return nil, false
	}
	now := r.now()
	if r.expired(e, now) {
		r.cache.Remove(sessionID)
		observability.SetTrackedSessions(r.cache.Len())
		return nil, false
	}
	e.lastAccess = now
	return e, true
}

// pruneExpired drops every idle entry. Callers hold r.mu.
func (r *Registry) pruneExpired() {
	if r.idleTTL <= 0 {
		return
	}
	now := r.now()
	pruned := false
	for _, id := range r.cache.Keys() {
		if e, ok := r.cache.Peek(id); ok && r.expired(e, now) {
			r.cache.Remove(id)
			pruned = true
		}
	}
	if pruned {
		observability.SetTrackedSessions(r.cache.Len())
	}
}

func (r *Registry) expired(e *registryEntry, now time.Time) bool {
	return r.idleTTL > 0 && now.Sub(e.lastAccess) >= r.idleTTL
}
