package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type form struct {
	ChiefComplaint string `json:"chiefComplaint"`
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, backend Backend, syncFn SyncFunc[form]) (*Cache[form], *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := New[form](backend, syncFn, Options{
		Namespace: "test",
		Version:   "v2",
		TTL:       30 * time.Minute,
		MaxAge:    24 * time.Hour,
		Now:       clk.Now,
		Logger:    zap.NewNop().Sugar(),
	})
	return c, clk
}

type failingBackend struct{}

func (failingBackend) Load(context.Context, string) ([]byte, error) {
	return nil, errors.New("quota exceeded")
}
func (failingBackend) Store(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}
func (failingBackend) Delete(context.Context, string) error { return nil }

func TestCache_GetReturnsStaleEntryPastTTL(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryBackend(), nil)
	require.NoError(t, c.Set(ctx, "clinical", form{ChiefComplaint: "cough"}))

	e, ok := c.Get(ctx, "clinical")
	require.True(t, ok)
	assert.False(t, e.Stale)

	clk.Advance(1801 * time.Second)
	e, ok = c.Get(ctx, "clinical")
	require.True(t, ok)
	assert.True(t, e.Stale)
	assert.Equal(t, "cough", e.Payload.ChiefComplaint)
}

func TestCache_StaleBoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryBackend(), nil)
	require.NoError(t, c.Set(ctx, "k", form{}))

	clk.Advance(30 * time.Minute)
	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.False(t, e.Stale)

	clk.Advance(time.Millisecond)
	e, _ = c.Get(ctx, "k")
	assert.True(t, e.Stale)
}

func TestCache_VersionMismatchIsDiscarded(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	old, _ := newTestCache(t, backend, nil)
	old.opts.Version = "v1"
	require.NoError(t, old.Set(ctx, "k", form{ChiefComplaint: "old schema"}))

	c, _ := newTestCache(t, backend, nil)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	_, err := backend.Load(ctx, "test:k")
	assert.ErrorIs(t, err, ErrMiss, "mismatched entry should be evicted")
}

func TestCache_MaxAgeDiscardsOnlyCleanEntries(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryBackend(), func(context.Context, string, form) error { return nil })
	require.NoError(t, c.Set(ctx, "dirty", form{ChiefComplaint: "unsynced"}))
	require.NoError(t, c.Set(ctx, "clean", form{ChiefComplaint: "synced"}))
	require.NoError(t, c.Sync(ctx, "clean"))

	clk.Advance(25 * time.Hour)

	_, ok := c.Get(ctx, "clean")
	assert.False(t, ok)
	e, ok := c.Get(ctx, "dirty")
	require.True(t, ok)
	assert.True(t, e.Stale)
}

func TestCache_InvalidateRemovesEntry(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, NewMemoryBackend(), nil)
	require.NoError(t, c.Set(ctx, "k", form{}))
	require.NoError(t, c.Invalidate(ctx, "k"))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Empty(t, c.DirtyKeys())
}

func TestCache_BackendFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, failingBackend{}, nil)

	assert.Error(t, c.Set(ctx, "k", form{}))
	assert.NotPanics(t, func() {
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
	})
}

func TestCache_SetIncrementsRevision(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, NewMemoryBackend(), nil)
	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "a"}))
	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "b"}))

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, uint64(2), e.Revision)
	assert.True(t, e.Dirty)
	assert.Equal(t, "v2", e.Version)
}

func TestCache_SyncSuccessMarksClean(t *testing.T) {
	ctx := context.Background()
	var pushed form
	c, clk := newTestCache(t, NewMemoryBackend(), func(_ context.Context, key string, p form) error {
		pushed = p
		return nil
	})
	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "fever"}))
	clk.Advance(time.Minute)

	require.NoError(t, c.Sync(ctx, "k"))

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.False(t, e.Dirty)
	require.NotNil(t, e.LastSyncedAt)
	assert.True(t, clk.Now().Equal(*e.LastSyncedAt))
	assert.Equal(t, "fever", pushed.ChiefComplaint)
	assert.Empty(t, c.DirtyKeys())
}

func TestCache_SyncFailureKeepsPayloadDirty(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("remote down")
	c, _ := newTestCache(t, NewMemoryBackend(), func(context.Context, string, form) error { return boom })
	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "rash"}))

	err := c.Sync(ctx, "k")
	assert.ErrorIs(t, err, boom)

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.True(t, e.Dirty)
	assert.Nil(t, e.LastSyncedAt)
	assert.Equal(t, "rash", e.Payload.ChiefComplaint)
	assert.Equal(t, []string{"k"}, c.DirtyKeys())
}

func TestCache_SyncOfMissingKey(t *testing.T) {
	c, _ := newTestCache(t, NewMemoryBackend(), func(context.Context, string, form) error { return nil })
	assert.ErrorIs(t, c.Sync(context.Background(), "nope"), ErrNotCached)
}

func TestCache_WriteDuringSyncStaysDirty(t *testing.T) {
	ctx := context.Background()
	var c *Cache[form]
	c, _ = newTestCache(t, NewMemoryBackend(), func(ctx context.Context, key string, p form) error {
		// a newer edit lands while the push is in flight
		return c.Set(ctx, key, form{ChiefComplaint: "newer"})
	})
	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "older"}))

	require.NoError(t, c.Sync(ctx, "k"))

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.True(t, e.Dirty)
	assert.Equal(t, "newer", e.Payload.ChiefComplaint)
	assert.NotNil(t, e.LastSyncedAt)
}

func TestCache_ConcurrentSyncsShareOneCall(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	c, _ := newTestCache(t, NewMemoryBackend(), func(context.Context, string, form) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, c.Set(ctx, "k", form{}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); assert.NoError(t, c.Sync(ctx, "k")) }()
	<-started
	go func() { defer wg.Done(); assert.NoError(t, c.Sync(ctx, "k")) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_SyncAllCollectsErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, NewMemoryBackend(), func(_ context.Context, key string, _ form) error {
		if key == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	require.NoError(t, c.Set(ctx, "good", form{}))
	require.NoError(t, c.Set(ctx, "bad", form{}))

	err := c.SyncAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Equal(t, []string{"bad"}, c.DirtyKeys())
}

func TestCache_SyncJoiningOlderFlightPushesLatestRevision(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var (
		mu     sync.Mutex
		pushed []string
	)
	c, _ := newTestCache(t, NewMemoryBackend(), func(_ context.Context, _ string, p form) error {
		started <- struct{}{}
		<-release
		mu.Lock()
		pushed = append(pushed, p.ChiefComplaint)
		mu.Unlock()
		return nil
	})
	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "draft"}))

	background := make(chan error, 1)
	go func() { background <- c.Sync(ctx, "k") }()
	<-started

	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "final"}))
	forced := make(chan error, 1)
	go func() { forced <- c.Sync(ctx, "k") }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-background)
	require.NoError(t, <-forced)

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.False(t, e.Dirty)
	assert.Equal(t, uint64(2), e.SyncedRevision)
	assert.Empty(t, c.DirtyKeys())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "final", pushed[len(pushed)-1])
}

// hookBackend runs afterLoad once, right after the next Load returns.
type hookBackend struct {
	*MemoryBackend
	afterLoad func()
}

func (b *hookBackend) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := b.MemoryBackend.Load(ctx, key)
	if f := b.afterLoad; f != nil {
		b.afterLoad = nil
		f()
	}
	return data, err
}

func TestCache_ExpiryKeepsWriteThatLandedAfterRead(t *testing.T) {
	ctx := context.Background()
	backend := &hookBackend{MemoryBackend: NewMemoryBackend()}
	c, clk := newTestCache(t, backend, func(context.Context, string, form) error { return nil })
	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "old"}))
	require.NoError(t, c.Sync(ctx, "k"))
	clk.Advance(25 * time.Hour)

	backend.afterLoad = func() {
		require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "new"}))
	}
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok, "the entry read was past max age")

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "new", e.Payload.ChiefComplaint)
	assert.True(t, e.Dirty)
	assert.Equal(t, []string{"k"}, c.DirtyKeys())
}

// expiringBackend records the ttl of the last write per key.
type expiringBackend struct {
	*MemoryBackend
	mu  sync.Mutex
	ttl map[string]time.Duration
}

func newExpiringBackend() *expiringBackend {
	return &expiringBackend{MemoryBackend: NewMemoryBackend(), ttl: make(map[string]time.Duration)}
}

func (b *expiringBackend) Store(ctx context.Context, key string, data []byte) error {
	b.record(key, 0)
	return b.MemoryBackend.Store(ctx, key, data)
}

func (b *expiringBackend) StoreExpiring(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	b.record(key, ttl)
	return b.MemoryBackend.Store(ctx, key, data)
}

func (b *expiringBackend) record(key string, ttl time.Duration) {
	b.mu.Lock()
	b.ttl[key] = ttl
	b.mu.Unlock()
}

func (b *expiringBackend) lastTTL(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ttl[key]
}

func TestCache_OnlyCleanEntriesExpireInBackend(t *testing.T) {
	ctx := context.Background()
	backend := newExpiringBackend()
	online := false
	c, _ := newTestCache(t, backend, func(context.Context, string, form) error {
		if !online {
			return errors.New("remote down")
		}
		return nil
	})

	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "chest pain"}))
	assert.Zero(t, backend.lastTTL("test:k"))

	require.Error(t, c.Sync(ctx, "k"))
	assert.Zero(t, backend.lastTTL("test:k"), "a failed sync must not put an expiry on unsynced data")

	online = true
	require.NoError(t, c.Sync(ctx, "k"))
	assert.Equal(t, 24*time.Hour, backend.lastTTL("test:k"))

	require.NoError(t, c.Set(ctx, "k", form{ChiefComplaint: "chest pain, resolved"}))
	assert.Zero(t, backend.lastTTL("test:k"))
}
