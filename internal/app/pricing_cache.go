/**
 * @description
 * Redis-backed tagged cache. Each cached key registers itself in a per-tag
 * redis set, and invalidating a tag deletes every member key plus the set
 * itself in one atomic script. Unlike per-instance key tracking, the tag
 * index lives in redis, so invalidation survives restarts and covers all
 * instances.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TierCache is the caching contract the pricing service uses. A nil cache
// disables caching entirely.
type TierCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string)
	InvalidateTag(ctx context.Context, tag string) error
}

var invalidateTagScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
for _, key in ipairs(members) do
  redis.call("DEL", key)
end
redis.call("DEL", KEYS[1])
return #members
`)

// RedisTaggedCache implements TierCache on top of redis.
type RedisTaggedCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTaggedCache creates a tagged cache with the given key prefix.
func NewRedisTaggedCache(client redis.UniversalClient, prefix string) *RedisTaggedCache {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "gohappygo:cache"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")

	return &RedisTaggedCache{client: client, prefix: trimmed}
}

func (c *RedisTaggedCache) key(key string) string {
	return fmt.Sprintf("%s:key:%s", c.prefix, key)
}

func (c *RedisTaggedCache) tagSet(tag string) string {
	return fmt.Sprintf("%s:tag:%s", c.prefix, tag)
}

// Get returns the cached value for key, if present. Redis errors degrade to
// a miss; the caller falls through to the database.
func (c *RedisTaggedCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set stores the value under key with a TTL and records key membership in
// each tag's set. Tag sets carry no TTL of their own: members may outlive
// their values, and deleting an already-expired key during invalidation is
// harmless.
func (c *RedisTaggedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) {
	if c == nil || c.client == nil {
		return
	}
	fullKey := c.key(key)
	pipe := c.client.Pipeline()
	pipe.Set(ctx, fullKey, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, c.tagSet(tag), fullKey)
	}
	// Best effort: a failed write just means a cache miss later.
	_, _ = pipe.Exec(ctx)
}

// InvalidateTag deletes every key registered under the tag.
func (c *RedisTaggedCache) InvalidateTag(ctx context.Context, tag string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return invalidateTagScript.Run(ctx, c.client, []string{c.tagSet(tag)}).Err()
}
