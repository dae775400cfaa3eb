package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// seedStore builds the fixture used across cache tests:
// role 1 admin (read:news, write:news), role 2 editor (read:news),
// role 3 user (no permissions), permission 9 delete:news unassigned.
func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	store.PutRole(Role{ID: 1, Name: "admin"})
	store.PutRole(Role{ID: 2, Name: "editor"})
	store.PutRole(Role{ID: 3, Name: "user"})
	store.PutPermission(Permission{ID: 1, Name: "read:news"})
	store.PutPermission(Permission{ID: 2, Name: "write:news"})
	store.PutPermission(Permission{ID: 9, Name: "delete:news"})

	ctx := context.Background()
	require.NoError(t, store.AssignPermission(ctx, 1, 1))
	require.NoError(t, store.AssignPermission(ctx, 1, 2))
	require.NoError(t, store.AssignPermission(ctx, 2, 1))
	return store
}

func TestPermissionsForRoleServesHitWithoutStoreRead(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store)
	ctx := context.Background()

	first, err := cache.PermissionsForRole(ctx, 1)
	require.NoError(t, err)
	second, err := cache.PermissionsForRole(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"read:news", "write:news"}, PermissionNames(first))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Calls("PermissionsForRole"))
}

func TestPermissionsForRoleUnknownRoleIsEmptyAndCached(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store)
	ctx := context.Background()

	perms, err := cache.PermissionsForRole(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, perms)
	assert.Empty(t, perms)

	_, err = cache.PermissionsForRole(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls("PermissionsForRole"))
	assert.Equal(t, []int64{42}, cache.Stats().RoleIDs)
}

func TestPermissionsForRoleTTLBoundary(t *testing.T) {
	store := seedStore(t)
	clock := newFakeClock()
	cache := NewCache(store, WithClock(clock.Now))
	ctx := context.Background()

	_, err := cache.PermissionsForRole(ctx, 2)
	require.NoError(t, err)

	clock.Advance(299_999 * time.Millisecond)
	_, err = cache.PermissionsForRole(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls("PermissionsForRole"), "entry younger than ttl must be a hit")

	clock.Advance(2 * time.Millisecond)
	_, err = cache.PermissionsForRole(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Calls("PermissionsForRole"), "entry older than ttl must be refetched")
}

func TestPermissionsForRoleExpiresExactlyAtTTL(t *testing.T) {
	store := seedStore(t)
	clock := newFakeClock()
	cache := NewCache(store, WithClock(clock.Now), WithTTL(time.Second))
	ctx := context.Background()

	_, err := cache.PermissionsForRole(ctx, 1)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = cache.PermissionsForRole(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Calls("PermissionsForRole"))
}

func TestHasPermissionEditorReadsNews(t *testing.T) {
	cache := NewCache(seedStore(t))
	ctx := context.Background()

	ok, err := cache.HasPermission(ctx, 2, "read:news")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.HasPermission(ctx, 2, "write:news")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cache.HasPermission(ctx, 2, "READ:NEWS")
	require.NoError(t, err)
	assert.False(t, ok, "names match case-sensitively")
}

func TestHasPermissionMatchesSingleElementAny(t *testing.T) {
	cache := NewCache(seedStore(t))
	ctx := context.Background()

	for _, roleID := range []int64{1, 2, 3, 42} {
		for _, name := range []string{"read:news", "write:news", "delete:news", ""} {
			single, err := cache.HasPermission(ctx, roleID, name)
			require.NoError(t, err)
			anyOf, err := cache.HasAnyPermission(ctx, roleID, []string{name})
			require.NoError(t, err)
			assert.Equal(t, single, anyOf, "role %d permission %q", roleID, name)
		}
	}
}

func TestAnyAndAllCombinators(t *testing.T) {
	cache := NewCache(seedStore(t))
	ctx := context.Background()

	cases := []struct {
		name    string
		roleID  int64
		names   []string
		wantAny bool
		wantAll bool
	}{
		{name: "empty list", roleID: 1, names: nil, wantAny: false, wantAll: true},
		{name: "empty list on empty role", roleID: 3, names: []string{}, wantAny: false, wantAll: true},
		{name: "all held", roleID: 1, names: []string{"read:news", "write:news"}, wantAny: true, wantAll: true},
		{name: "partially held", roleID: 2, names: []string{"read:news", "write:news"}, wantAny: true, wantAll: false},
		{name: "none held", roleID: 2, names: []string{"delete:news"}, wantAny: false, wantAll: false},
		{name: "role without permissions", roleID: 3, names: []string{"read:news"}, wantAny: false, wantAll: false},
		{name: "duplicates", roleID: 2, names: []string{"read:news", "read:news"}, wantAny: true, wantAll: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotAny, err := cache.HasAnyPermission(ctx, tc.roleID, tc.names)
			require.NoError(t, err)
			assert.Equal(t, tc.wantAny, gotAny)

			gotAll, err := cache.HasAllPermissions(ctx, tc.roleID, tc.names)
			require.NoError(t, err)
			assert.Equal(t, tc.wantAll, gotAll)
		})
	}
}

func TestEmptyCombinatorsStillPropagateStoreErrors(t *testing.T) {
	store := seedStore(t)
	store.SetUnavailable(true)
	cache := NewCache(store)
	ctx := context.Background()

	_, err := cache.HasAnyPermission(ctx, 1, nil)
	require.Error(t, err)
	_, err = cache.HasAllPermissions(ctx, 1, nil)
	require.Error(t, err)
}

func TestStaleUntilInvalidated(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store)
	ctx := context.Background()

	ok, err := cache.HasPermission(ctx, 3, "delete:news")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.AssignPermission(ctx, 3, 9))

	ok, err = cache.HasPermission(ctx, 3, "delete:news")
	require.NoError(t, err)
	assert.False(t, ok, "cache keeps serving the entry until it is invalidated")

	cache.InvalidateRole(3)

	ok, err = cache.HasPermission(ctx, 3, "delete:news")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, store.Calls("PermissionsForRole"))
}

func TestInvalidateRoleLeavesOtherEntries(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := cache.PermissionsForRole(ctx, id)
		require.NoError(t, err)
	}
	cache.InvalidateRole(2)
	cache.InvalidateRole(77)

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, []int64{1, 3}, stats.RoleIDs)
}

func TestInvalidateAllEmptiesCache(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		_, err := cache.PermissionsForRole(ctx, id)
		require.NoError(t, err)
	}
	cache.InvalidateAll()

	stats := cache.Stats()
	assert.Zero(t, stats.Size)
	assert.Empty(t, stats.RoleIDs)

	_, err := cache.PermissionsForRole(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Calls("PermissionsForRole"))
}

func TestStoreErrorIsReturnedUnchangedAndNotCached(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store)
	ctx := context.Background()

	store.SetUnavailable(true)
	_, err := cache.PermissionsForRole(ctx, 1)
	require.Error(t, err)
	assert.True(t, IsStoreUnavailable(err))
	assert.ErrorIs(t, err, errMemoryDown)
	assert.Zero(t, cache.Stats().Size)

	ok, err := cache.HasPermission(ctx, 1, "read:news")
	require.Error(t, err)
	assert.False(t, ok)

	store.SetUnavailable(false)
	ok, err = cache.HasPermission(ctx, 1, "read:news")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredEntryIsNotServedWhenStoreFails(t *testing.T) {
	store := seedStore(t)
	clock := newFakeClock()
	cache := NewCache(store, WithClock(clock.Now))
	ctx := context.Background()

	_, err := cache.PermissionsForRole(ctx, 1)
	require.NoError(t, err)

	clock.Advance(DefaultTTL)
	store.SetUnavailable(true)

	perms, err := cache.PermissionsForRole(ctx, 1)
	require.Error(t, err)
	assert.Nil(t, perms)
}

type gatedStore struct {
	*MemoryStore
	started chan struct{}
	release chan struct{}
}

func (s *gatedStore) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	perms, err := s.MemoryStore.PermissionsForRole(ctx, roleID)
	close(s.started)
	<-s.release
	return perms, err
}

func TestInvalidationDuringMissDiscardsResult(t *testing.T) {
	for name, invalidate := range map[string]func(*Cache){
		"role": func(c *Cache) { c.InvalidateRole(1) },
		"all":  func(c *Cache) { c.InvalidateAll() },
	} {
		t.Run(name, func(t *testing.T) {
			store := &gatedStore{MemoryStore: seedStore(t), started: make(chan struct{}), release: make(chan struct{})}
			cache := NewCache(store)

			done := make(chan error, 1)
			go func() {
				_, err := cache.PermissionsForRole(context.Background(), 1)
				done <- err
			}()

			<-store.started
			invalidate(cache)
			close(store.release)
			require.NoError(t, <-done)

			assert.Zero(t, cache.Stats().Size, "read that raced an invalidation must not be cached")
		})
	}
}

func TestStatsDoesNotReadStore(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store, WithTTL(90*time.Second))

	stats := cache.Stats()
	assert.Zero(t, stats.Size)
	assert.Equal(t, 90*time.Second, stats.TTL)
	assert.Equal(t, int64(90_000), stats.TTLMillis)

	_, err := cache.PermissionsForRole(context.Background(), 2)
	require.NoError(t, err)
	stats = cache.Stats()
	assert.Equal(t, []int64{2}, stats.RoleIDs)
	assert.Equal(t, 1, store.Calls("PermissionsForRole"))
}

func TestWarmLoadsEveryRole(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store, WithWarmConcurrency(2))

	require.NoError(t, cache.Warm(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, cache.Stats().RoleIDs)
	assert.Equal(t, 3, store.Calls("PermissionsForRole"))

	ok, err := cache.HasPermission(context.Background(), 1, "write:news")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, store.Calls("PermissionsForRole"))
}

func TestWarmReportsStoreFailure(t *testing.T) {
	store := seedStore(t)
	store.SetUnavailable(true)
	cache := NewCache(store)

	err := cache.Warm(context.Background())
	require.Error(t, err)
	assert.True(t, IsStoreUnavailable(err))
	assert.Zero(t, cache.Stats().Size)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	store := seedStore(t)
	clock := newFakeClock()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	cache := NewCache(store, WithClock(clock.Now), WithTTL(time.Minute), WithMetrics(metrics))
	ctx := context.Background()

	_, err := cache.PermissionsForRole(ctx, 1)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = cache.PermissionsForRole(ctx, 2)
	require.NoError(t, err)
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, cache.Sweep())
	assert.Equal(t, []int64{2}, cache.Stats().RoleIDs)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.evictions))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.entries))
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	cache := NewCache(seedStore(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cache.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestMetricsCountHitsMissesAndErrors(t *testing.T) {
	store := seedStore(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	cache := NewCache(store, WithMetrics(metrics))
	ctx := context.Background()

	_, _ = cache.PermissionsForRole(ctx, 1)
	_, _ = cache.PermissionsForRole(ctx, 1)
	store.SetUnavailable(true)
	_, err := cache.PermissionsForRole(ctx, 2)
	require.True(t, errors.Is(err, ErrStoreUnavailable))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.hits))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.misses))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.storeErrors))
}

func TestConcurrentReadsAndInvalidations(t *testing.T) {
	store := seedStore(t)
	cache := NewCache(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if j%10 == 0 {
					cache.InvalidateRole(int64(i%3 + 1))
				}
				ok, err := cache.HasPermission(ctx, 1, "read:news")
				assert.NoError(t, err)
				assert.True(t, ok)
			}
		}(i)
	}
	wg.Wait()
}
