// Package cache provides the in-process implementation of osql.Cache, used by
// standalone engine instances and by tests. Clustered deployments use the
// redis package instead.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/blocksql/osql"
)

type item struct {
	data       []byte
	expiration time.Time
}

func (it item) expired() bool {
	return !it.expiration.IsZero() && time.Now().After(it.expiration)
}

// InMemoryCache is a map-backed osql.Cache. The claim cache holds one
// short-TTL entry per in-flight request, so there is no eviction pressure;
// expired entries are dropped lazily on access.
type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]item
}

func NewInMemoryCache() osql.Cache {
	return &InMemoryCache{
		items: make(map[string]item),
	}
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = newItem([]byte(value), expiration)
	return nil
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (bool, string, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return false, "", nil
	}
	if it.expired() {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return false, "", nil
	}
	return true, string(it.data), nil
}

// SetIfNotExists claims key for the first caller; the claim and its TTL are
// decided under one lock hold, mirroring redis SETNX.
func (c *InMemoryCache) SetIfNotExists(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok && !it.expired() {
		return false, nil
	}
	c.items[key] = newItem([]byte(value), expiration)
	return true, nil
}

func (c *InMemoryCache) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = newItem(data, expiration)
	return nil
}

func (c *InMemoryCache) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	found, s, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), target); err != nil {
		return false, err
	}
	return true, nil
}

func (c *InMemoryCache) Delete(ctx context.Context, keys []string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := true
	for _, k := range keys {
		if _, ok := c.items[k]; !ok {
			all = false
			continue
		}
		delete(c.items, k)
	}
	return all, nil
}

func (c *InMemoryCache) Ping(ctx context.Context) error {
	return nil
}

func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item)
	return nil
}

func newItem(data []byte, expiration time.Duration) item {
	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}
	return item{data: data, expiration: exp}
}

func init() {
	osql.RegisterCacheFactory(osql.InMemory, NewInMemoryCache)
}
