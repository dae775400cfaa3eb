package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTTL bounds how long a role's permission list is served without a store read.
const DefaultTTL = 5 * time.Minute

const defaultWarmConcurrency = 4

// Cache memoizes role permission lists in front of a Store.
//
// One Cache is built per process and shared by reference. Entries are checked
// against the TTL on every read, so expiry never depends on the sweeper. The
// cache cannot observe store writes: callers that mutate roles or assignments
// must call InvalidateRole or InvalidateAll afterwards.
type Cache struct {
	store           Store
	ttl             time.Duration
	now             func() time.Time
	logger          *slog.Logger
	metrics         *Metrics
	warmConcurrency int

	mu      sync.RWMutex
	entries map[int64]cacheEntry
	// gens and epoch advance on invalidation so a store read that started
	// before the invalidation cannot write its result back afterwards.
	gens  map[int64]uint64
	epoch uint64
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock used for entry timestamps.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger for store failures and sweeps.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// WithWarmConcurrency bounds parallel store reads during Warm.
func WithWarmConcurrency(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.warmConcurrency = n
		}
	}
}

// NewCache constructs an empty Cache in front of store.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:           store,
		ttl:             DefaultTTL,
		now:             time.Now,
		logger:          slog.New(slog.DiscardHandler),
		warmConcurrency: defaultWarmConcurrency,
		entries:         make(map[int64]cacheEntry),
		gens:            make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// PermissionsForRole returns the role's permissions, reading the store only when
// no fresh entry exists. Store errors are returned unchanged and never cached; a
// stale entry is not served as a fallback. The returned slice is shared with the
// cache and must not be modified.
func (c *Cache) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	found, epoch, gen := c.lookup(roleID)
	if found.hit {
		c.metrics.hit()
		return found.permissions, nil
	}
	c.metrics.miss()

	perms, err := c.store.PermissionsForRole(ctx, roleID)
	if err != nil {
		c.metrics.storeError()
		c.logger.Warn("rbac load role permissions", slog.Int64("role_id", roleID), slog.Any("error", err))
		return nil, err
	}
	if perms == nil {
		perms = []Permission{}
	}

	c.mu.Lock()
	if c.epoch == epoch && c.gens[roleID] == gen {
		c.entries[roleID] = cacheEntry{permissions: perms, fetchedAt: c.now()}
	}
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.size(size)
	return perms, nil
}

// lookup consults the map only. It also returns the invalidation counters seen,
// which the caller hands back when writing a fresh entry.
func (c *Cache) lookup(roleID int64) (lookup, uint64, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[roleID]
	if !ok || !c.fresh(entry) {
		return cacheMiss(), c.epoch, c.gens[roleID]
	}
	return cacheHit(entry.permissions), c.epoch, c.gens[roleID]
}

func (c *Cache) fresh(entry cacheEntry) bool {
	return c.now().Sub(entry.fetchedAt) < c.ttl
}

// HasPermission reports whether the role holds the named permission.
// Names match exactly and case-sensitively.
func (c *Cache) HasPermission(ctx context.Context, roleID int64, name string) (bool, error) {
	perms, err := c.PermissionsForRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission reports whether the role holds at least one of names.
// An empty names list is never satisfied.
func (c *Cache) HasAnyPermission(ctx context.Context, roleID int64, names []string) (bool, error) {
	perms, err := c.PermissionsForRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	granted := nameSet(perms)
	for _, name := range names {
		if _, ok := granted[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether the role holds every one of names.
// An empty names list is satisfied vacuously.
func (c *Cache) HasAllPermissions(ctx context.Context, roleID int64, names []string) (bool, error) {
	perms, err := c.PermissionsForRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	granted := nameSet(perms)
	for _, name := range names {
		if _, ok := granted[name]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func nameSet(perms []Permission) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p.Name] = struct{}{}
	}
	return set
}

// InvalidateRole drops the entry for one role so the next read refetches.
func (c *Cache) InvalidateRole(roleID int64) {
	c.mu.Lock()
	delete(c.entries, roleID)
	c.gens[roleID]++
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.size(size)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[int64]cacheEntry)
	c.gens = make(map[int64]uint64)
	c.epoch++
	c.mu.Unlock()
	c.metrics.size(0)
}

// Stats returns a snapshot of the cache. It never touches the store.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	ids := make([]int64, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return CacheStats{
		Size:      len(ids),
		RoleIDs:   ids,
		TTL:       c.ttl,
		TTLMillis: c.ttl.Milliseconds(),
	}
}

// Warm loads permissions for every known role. Roles that already have a fresh
// entry are left untouched.
func (c *Cache) Warm(ctx context.Context) error {
	roles, err := c.store.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("rbac: warm list roles: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.warmConcurrency)
	for _, role := range roles {
		roleID := role.ID
		g.Go(func() error {
			_, err := c.PermissionsForRole(gctx, roleID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info("rbac cache warmed", slog.Int("roles", len(roles)))
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	removed := 0
	for id, entry := range c.entries {
		if !c.fresh(entry) {
			delete(c.entries, id)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.evicted(removed)
	c.metrics.size(size)
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("rbac cache sweep", slog.Int("evicted", n))
			}
		}
	}
}
