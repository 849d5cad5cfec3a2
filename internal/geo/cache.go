package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "geo_mapping:"

// Cache keeps assembled references in Redis so runs skip reparsing the
// reference files until they change.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a cache; a zero ttl keeps entries for a week
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{redis: client, ttl: ttl}
}

func cacheKey(version string) string {
	return cacheKeyPrefix + version
}

// Get returns the cached reference for a version, or nil on a miss
func (c *Cache) Get(ctx context.Context, version string) (*Reference, error) {
	data, err := c.redis.Get(ctx, cacheKey(version)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geo mapping from Redis: %w", err)
	}

	var ref Reference
	if err := json.Unmarshal([]byte(data), &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geo mapping: %w", err)
	}
	return &ref, nil
}

// Set stores a reference under a version
func (c *Cache) Set(ctx context.Context, version string, ref Reference) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal geo mapping: %w", err)
	}
	if err := c.redis.Set(ctx, cacheKey(version), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set geo mapping in Redis: %w", err)
	}
	return nil
}

// Delete drops a cached version
func (c *Cache) Delete(ctx context.Context, version string) error {
	return c.redis.Del(ctx, cacheKey(version)).Err()
}

// Load returns the mapping for version, calling build and caching its result
// on a miss. Redis failures degrade to building without the cache.
func (c *Cache) Load(ctx context.Context, version string, build func() (Reference, error)) (*Mapping, error) {
	ref, err := c.Get(ctx, version)
	if err != nil {
		fmt.Printf("Note: geo cache unavailable (version %s): %v\n", version, err)
	}
	if ref != nil {
		return NewMapping(*ref), nil
	}

	built, err := build()
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, version, built); err != nil {
		fmt.Printf("Note: geo mapping not cached (version %s): %v\n", version, err)
	}
	return NewMapping(built), nil
}
