// Package cache keeps in-progress consultation data in a versioned,
// TTL-aware store and pushes it to the remote consultation store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrMiss is returned by a Backend when the key does not exist.
	ErrMiss       = errors.New("cache: miss")
	// ErrNotCached is returned by Sync for a key that holds no entry.
	ErrNotCached  = errors.New("cache: key not cached")
	ErrNoSyncFunc = errors.New("cache: no sync function configured")
	// ErrSyncBehind is returned by Sync when writes kept landing faster than
	// they could be pushed.
	ErrSyncBehind = errors.New("cache: entry still ahead of the remote store")
)

// syncRounds bounds how often Sync retries to catch up with newer writes.
const syncRounds = 3

// Backend persists serialized entries. Store must replace the value
// atomically so readers never observe a partial write.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// ExpiringBackend is implemented by backends that can drop an entry on their
// own. The cache only asks for an expiry on clean entries.
type ExpiringBackend interface {
	Backend
	StoreExpiring(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// SyncFunc pushes a cached payload to the remote store.
type SyncFunc[T any] func(ctx context.Context, key string, payload T) error

type Options struct {
	Namespace string
	// Version is compared with the tag of every stored entry; a mismatch
	// discards the entry.
	Version string
	// TTL marks entries stale. Stale entries are still returned.
	TTL time.Duration
	// MaxAge discards clean entries older than this. Zero disables it.
	MaxAge time.Duration
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

type Entry[T any] struct {
	Key          string        `json:"key"`
	Payload      T             `json:"payload"`
	Timestamp    time.Time     `json:"timestamp"`
	Version      string        `json:"version"`
	TTL          time.Duration `json:"ttl"`
	Revision     uint64        `json:"revision"`
	Dirty        bool          `json:"dirty"`
	LastSyncedAt *time.Time    `json:"lastSyncedAt,omitempty"`
	Stale        bool          `json:"-"`

	// SyncedRevision is the highest revision the sync function accepted.
	SyncedRevision uint64 `json:"syncedRevision,omitempty"`
}

type Cache[T any] struct {
	opts    Options
	backend Backend
	syncFn  SyncFunc[T]
	log     *zap.SugaredLogger

	// mu serializes read-modify-write cycles on the backend.
	mu     sync.Mutex
	flight singleflight.Group

	keysMu sync.Mutex
	dirty  map[string]struct{}
}

func New[T any](backend Backend, syncFn SyncFunc[T], opts Options) *Cache[T] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.S()
	}
	return &Cache[T]{
		opts:    opts,
		backend: backend,
		syncFn:  syncFn,
		log:     opts.Logger.With("cache", opts.Namespace),
		dirty:   make(map[string]struct{}),
	}
}

// Get returns the entry for key if its version tag matches and it has not
// passed MaxAge. Entries past their TTL come back with Stale set.
func (c *Cache[T]) Get(ctx context.Context, key string) (Entry[T], bool) {
	e, ok := c.read(ctx, key)
	if !ok {
		return Entry[T]{}, false
	}
	now := c.opts.Now()
	age := now.Sub(e.Timestamp)
	if e.Version != c.opts.Version {
		c.log.Infow("discarding cache entry with foreign version", "key", key, "version", e.Version, "expected", c.opts.Version)
		c.evictIfUnchanged(ctx, key, e)
		return Entry[T]{}, false
	}
	if c.opts.MaxAge > 0 && age > c.opts.MaxAge && !e.Dirty {
		c.log.Infow("discarding expired cache entry", "key", key, "age", age)
		c.evictIfUnchanged(ctx, key, e)
		return Entry[T]{}, false
	}
	e.Stale = age > e.TTL
	return e, true
}

// Set stores payload under key with a fresh timestamp and marks it dirty.
func (c *Cache[T]) Set(ctx context.Context, key string, payload T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry[T]{
		Key:       key,
		Payload:   payload,
		Timestamp: c.opts.Now(),
		Version:   c.opts.Version,
		TTL:       c.opts.TTL,
		Revision:  1,
		Dirty:     true,
	}
	if prev, ok := c.read(ctx, key); ok {
		e.Revision = prev.Revision + 1
		e.LastSyncedAt = prev.LastSyncedAt
		e.SyncedRevision = prev.SyncedRevision
	}
	if err := c.write(ctx, e); err != nil {
		return err
	}
	c.track(key)
	return nil
}

// Invalidate removes key regardless of its state.
func (c *Cache[T]) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.untrack(key)
	if err := c.backend.Delete(ctx, c.storageKey(key)); err != nil && !errors.Is(err, ErrMiss) {
		c.log.Warnw("cache invalidate failed", "key", key, "error", err)
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// Sync pushes the entry for key through the sync function. A Sync issued
// while another one for the same key is running waits for it; if that run
// pushed an older revision than the one cached when Sync was called, Sync
// pushes again. On failure the entry stays dirty and its payload is kept.
func (c *Cache[T]) Sync(ctx context.Context, key string) error {
	var want uint64
	if e, ok := c.read(ctx, key); ok {
		want = e.Revision
	}
	for i := 0; i < syncRounds; i++ {
		_, err, _ := c.flight.Do(key, func() (interface{}, error) {
			return nil, c.syncKey(ctx, key)
		})
		if err != nil {
			return err
		}
		e, ok := c.read(ctx, key)
		if !ok || !e.Dirty || e.SyncedRevision >= want {
			return nil
		}
		c.log.Debugw("shared sync pushed an older revision, syncing again", "key", key, "synced", e.SyncedRevision, "want", want)
	}
	return fmt.Errorf("%w: %s", ErrSyncBehind, key)
}

// SyncAll syncs every dirty key written through this cache.
func (c *Cache[T]) SyncAll(ctx context.Context) error {
	var errs []error
	for _, key := range c.DirtyKeys() {
		if err := c.Sync(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Track registers a key written by an earlier process so SyncAll covers it.
func (c *Cache[T]) Track(key string) {
	c.track(key)
}

// DirtyKeys lists tracked keys in lexical order.
func (c *Cache[T]) DirtyKeys() []string {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Cache[T]) syncKey(ctx context.Context, key string) error {
	e, ok := c.read(ctx, key)
	if !ok {
		c.untrack(key)
		return fmt.Errorf("%w: %s", ErrNotCached, key)
	}
	if !e.Dirty {
		c.untrack(key)
		return nil
	}
	if c.syncFn == nil {
		return ErrNoSyncFunc
	}
	if err := c.syncFn(ctx, key, e.Payload); err != nil {
		c.log.Warnw("cache sync failed, keeping entry dirty", "key", key, "revision", e.Revision, "error", err)
		return fmt.Errorf("sync %s: %w", key, err)
	}
	c.markClean(ctx, key, e.Revision)
	return nil
}

// markClean clears the dirty flag only when no newer write happened while
// the sync was in flight.
func (c *Cache[T]) markClean(ctx context.Context, key string, revision uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.read(ctx, key)
	if !ok {
		return
	}
	now := c.opts.Now()
	cur.LastSyncedAt = &now
	if revision > cur.SyncedRevision {
		cur.SyncedRevision = revision
	}
	if cur.Revision == revision {
		cur.Dirty = false
		c.untrack(key)
	}
	if err := c.write(ctx, cur); err != nil {
		c.log.Warnw("could not record sync state", "key", key, "error", err)
	}
}

func (c *Cache[T]) read(ctx context.Context, key string) (Entry[T], bool) {
	raw, err := c.backend.Load(ctx, c.storageKey(key))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warnw("cache read failed, treating as miss", "key", key, "error", err)
		}
		return Entry[T]{}, false
	}
	var e Entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warnw("corrupt cache entry", "key", key, "error", err)
		c.evict(ctx, key)
		return Entry[T]{}, false
	}
	return e, true
}

func (c *Cache[T]) write(ctx context.Context, e Entry[T]) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", e.Key, err)
	}
	if err := c.store(ctx, e, raw); err != nil {
		c.log.Errorw("cache write failed", "key", e.Key, "error", err)
		return fmt.Errorf("store %s: %w", e.Key, err)
	}
	return nil
}

// store writes dirty entries without expiry; only clean entries may be
// dropped by the backend.
func (c *Cache[T]) store(ctx context.Context, e Entry[T], raw []byte) error {
	if x, ok := c.backend.(ExpiringBackend); ok && !e.Dirty && c.opts.MaxAge > 0 {
		return x.StoreExpiring(ctx, c.storageKey(e.Key), raw, c.opts.MaxAge)
	}
	return c.backend.Store(ctx, c.storageKey(e.Key), raw)
}

// evictIfUnchanged deletes the entry seen unless a write replaced it after
// it was read.
func (c *Cache[T]) evictIfUnchanged(ctx context.Context, key string, seen Entry[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.read(ctx, key)
	if !ok {
		return
	}
	if cur.Revision != seen.Revision || !cur.Timestamp.Equal(seen.Timestamp) {
		return
	}
	c.evict(ctx, key)
}

func (c *Cache[T]) evict(ctx context.Context, key string) {
	c.untrack(key)
	if err := c.backend.Delete(ctx, c.storageKey(key)); err != nil && !errors.Is(err, ErrMiss) {
		c.log.Warnw("cache evict failed", "key", key, "error", err)
	}
}

func (c *Cache[T]) storageKey(key string) string {
	if c.opts.Namespace == "" {
		return key
	}
	return c.opts.Namespace + ":" + key
}

func (c *Cache[T]) track(key string) {
	c.keysMu.Lock()
	c.dirty[key] = struct{}{}
	c.keysMu.Unlock()
}

func (c *Cache[T]) untrack(key string) {
	c.keysMu.Lock()
	delete(c.dirty, key)
	c.keysMu.Unlock()
}
