package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/notification-cache/internal/config"
	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultPrefix = "nc"
	scanBatch     = 500
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.NormalizedCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: NOTIFICATION_CACHE_REDIS_URL is required")
	}
	ttl := cfg.CacheEntityTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURL(ctx, cfg.RedisURL, defaultPrefix, ttl)
}

// LoadFromURL creates a NormalizedCache from a Redis-compatible URL. All keys
// are namespaced under prefix so several devices can share one server.
func LoadFromURL(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*Cache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Cache{client: client, ttl: ttl, prefix: prefix}, nil
}

// Cache stores entities as plain string keys with a TTL and lists as JSON
// arrays of refs without expiry.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

func (c *Cache) entityKey(typ, id string) string {
	return fmt.Sprintf("%s:entity:%s:%s", c.prefix, typ, id)
}

func (c *Cache) listKey(key string) string {
	return fmt.Sprintf("%s:list:%s", c.prefix, key)
}

func (c *Cache) Available() bool {
	return true
}

func (c *Cache) PutEntities(ctx context.Context, typ string, entities map[string][]byte) error {
	if len(entities) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for id, data := range entities {
		pipe.Set(ctx, c.entityKey(typ, id), data, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) GetEntity(ctx context.Context, typ, id string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.entityKey(typ, id)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *Cache) DeleteEntities(ctx context.Context, typ string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.entityKey(typ, id)
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) SetList(ctx context.Context, key string, refs []registrycache.Ref) error {
	encoded := make([]string, len(refs))
	for i, ref := range refs {
		encoded[i] = ref.String()
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.listKey(key), data, 0).Err()
}

func (c *Cache) GetList(ctx context.Context, key string) ([]registrycache.Ref, bool, error) {
	data, err := c.client.Get(ctx, c.listKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var encoded []string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, false, fmt.Errorf("redis cache: decode list %s: %w", key, err)
	}
	refs := make([]registrycache.Ref, 0, len(encoded))
	for _, s := range encoded {
		ref, err := registrycache.ParseRef(s)
		if err != nil {
			return nil, false, err
		}
		refs = append(refs, ref)
	}
	return refs, true, nil
}

func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, key := range keys {
		redisKeys[i] = c.listKey(key)
	}
	return c.client.Del(ctx, redisKeys...).Err()
}

func (c *Cache) GC(ctx context.Context) (int, error) {
	referenced := map[string]struct{}{}
	listPrefix := c.listKey("")
	err := c.scan(ctx, listPrefix+"*", func(keys []string) error {
		for _, key := range keys {
			refs, ok, err := c.GetList(ctx, strings.TrimPrefix(key, listPrefix))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			for _, ref := range refs {
				referenced[c.entityKey(ref.Type, ref.ID)] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	err = c.scan(ctx, c.prefix+":entity:*", func(keys []string) error {
		var orphans []string
		for _, key := range keys {
			if _, ok := referenced[key]; !ok {
				orphans = append(orphans, key)
			}
		}
		if len(orphans) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, orphans...).Result()
		removed += int(n)
		return err
	})
	return removed, err
}

func (c *Cache) scan(ctx context.Context, match string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

var _ registrycache.NormalizedCache = (*Cache)(nil)
