package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local Cache backed by go-cache. Counters and
// SetIfAbsent are only exclusive within one process.
type MemoryCache struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryCache creates a MemoryCache whose entries default to defaultTTL.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *MemoryCache) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), true, nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// IncrWithExpiry mirrors the Redis pipeline: the counter is bumped and its
// expiry reset on every call.
func (m *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if v, ok := m.c.Get(key); ok {
		n, _ = v.(int64)
	}
	n++
	m.c.Set(key, n, expiry)
	return n, nil
}

func (m *MemoryCache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := m.c.Add(key, append([]byte(nil), value...), ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryCache) Close() error {
	m.c.Flush()
	return nil
}
