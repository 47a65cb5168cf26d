package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TTLCache is a small in-process get-or-load cache used in front of the
// tenant and template lookups. Entries expire after the configured TTL;
// expired entries are replaced on the next load.
type TTLCache[V any] struct {
	ttl   time.Duration
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTLCache creates a TTLCache whose entries live for ttl.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		ttl:     ttl,
		entries: make(map[string]ttlEntry[V]),
	}
}

// GetOrLoad returns the cached value for key, calling load on a miss or after
// expiry. Concurrent misses for the same key share a single load; load errors
// are not cached.
func (c *TTLCache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	loaded, err, _ := c.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return loaded.(V), nil
}

// Invalidate removes a single entry.
func (c *TTLCache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
