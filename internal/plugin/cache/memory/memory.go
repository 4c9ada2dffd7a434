// Package memory provides the in-process normalized cache backed by ristretto.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chirino/notification-cache/internal/config"
	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const (
	defaultMaxCost = 64 << 20
	defaultTTL     = 24 * time.Hour
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrycache.NormalizedCache, error) {
			cfg := config.FromContext(ctx)
			maxCost, ttl := int64(defaultMaxCost), defaultTTL
			if cfg != nil {
				if cfg.CacheMaxCost > 0 {
					maxCost = cfg.CacheMaxCost
				}
				if cfg.CacheEntityTTL > 0 {
					ttl = cfg.CacheEntityTTL
				}
			}
			return New(maxCost, ttl)
		},
	})
}

// Cache keeps entities in ristretto and lists in a plain map. ristretto cannot
// enumerate its keys, so the set of written entity keys is tracked for GC.
type Cache struct {
	entities *ristretto.Cache[string, []byte]
	ttl      time.Duration

	mu    sync.Mutex
	lists map[string][]registrycache.Ref
	known map[string]struct{}
}

// New creates a cache bounded by maxCost bytes of entity payload.
func New(maxCost int64, ttl time.Duration) (*Cache, error) {
	entities, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        max(maxCost/100, 1000),
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &Cache{
		entities: entities,
		ttl:      ttl,
		lists:    map[string][]registrycache.Ref{},
		known:    map[string]struct{}{},
	}, nil
}

func entityKey(typ, id string) string {
	return registrycache.Ref{Type: typ, ID: id}.String()
}

func (c *Cache) Available() bool { return true }

func (c *Cache) PutEntities(_ context.Context, typ string, entities map[string][]byte) error {
	if len(entities) == 0 {
		return nil
	}
	c.mu.Lock()
	for id, data := range entities {
		key := entityKey(typ, id)
		c.entities.SetWithTTL(key, data, int64(len(data))+1, c.ttl)
		c.known[key] = struct{}{}
	}
	c.mu.Unlock()
	// make the writes visible to the next Get
	c.entities.Wait()
	return nil
}

func (c *Cache) GetEntity(_ context.Context, typ, id string) ([]byte, bool, error) {
	data, ok := c.entities.Get(entityKey(typ, id))
	return data, ok, nil
}

func (c *Cache) DeleteEntities(_ context.Context, typ string, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		key := entityKey(typ, id)
		c.entities.Del(key)
		delete(c.known, key)
	}
	return nil
}

func (c *Cache) SetList(_ context.Context, key string, refs []registrycache.Ref) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[key] = slices.Clone(refs)
	return nil
}

func (c *Cache) GetList(_ context.Context, key string) ([]registrycache.Ref, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	refs, ok := c.lists[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(refs), true, nil
}

func (c *Cache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.lists, key)
	}
	return nil
}

func (c *Cache) GC(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	referenced := map[string]struct{}{}
	for _, refs := range c.lists {
		for _, ref := range refs {
			referenced[ref.String()] = struct{}{}
		}
	}
	removed := 0
	for key := range c.known {
		if _, ok := referenced[key]; ok {
			continue
		}
		c.entities.Del(key)
		delete(c.known, key)
		removed++
	}
	return removed, nil
}

func (c *Cache) Close() error {
	c.entities.Close()
	return nil
}

var _ registrycache.NormalizedCache = (*Cache)(nil)
