package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Store(_ context.Context, key string, data []byte) error {
	v := make([]byte, len(data))
	copy(v, data)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// RedisBackend stores entries as plain string values. A SET replaces the
// whole value, which gives the atomicity Backend requires. Store keeps a key
// until it is overwritten; StoreExpiring lets redis drop it after ttl.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

var _ ExpiringBackend = (*RedisBackend)(nil)

func NewRedisBackend(client redis.Cmdable, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

// Store writes without expiry. A plain SET also clears any TTL left by an
// earlier StoreExpiring.
func (r *RedisBackend) Store(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, r.prefix+key, data, 0).Err()
}

func (r *RedisBackend) StoreExpiring(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

func (r *RedisBackend) PingContext(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
