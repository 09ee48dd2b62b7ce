package cache

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/viboost/comment-engine-go/internal/redis"
)

// Cache wraps the coordination primitives the engine needs from Redis:
// TTL locks, cooldown flags, last-account markers and a short-TTL read
// cache for schedule detail.
type Cache struct {
	client *redisclient.Client
}

func New(client *redisclient.Client) *Cache {
	return &Cache{client: client}
}

// AcquireLock takes a TTL lock. Returns false when another holder owns it.
// Every lock carries a TTL; there is no untimed acquisition.
func (c *Cache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, "1", ttl).Result()
}

// ReleaseLock drops a lock early. Expiry alone is also a valid release.
func (c *Cache) ReleaseLock(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetCooldown flags a key for the given window.
func (c *Cache) SetCooldown(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Set(ctx, key, "1", ttl).Err()
}

// OnCooldown reports whether a cooldown flag is still live.
func (c *Cache) OnCooldown(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n == 1, err
}

// SetMarker stores a plain string value with a TTL (e.g. the last account
// used on a video).
func (c *Cache) SetMarker(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// GetMarker returns the marker value, or "" when absent.
func (c *Cache) GetMarker(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", nil
	}
	return val, err
}

// SetJSON caches a JSON-encoded value.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetJSON loads a cached value into dest. Returns false on a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt cache entry is a miss, not an error.
		log.Warn().Err(err).Str("key", key).Msg("dropping unreadable cache entry")
		c.client.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// InvalidatePattern removes every key matching a glob pattern, scanning in
// batches so large keyspaces do not block Redis.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := c.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, iter.Err()
}
