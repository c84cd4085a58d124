package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	generationKey = "rbac:perms:gen"
	keyPrefix     = "rbac:perms:"
)

// Connect initializes a Redis client from a redis:// URL or a host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisPermissionCache stores permission names per user as JSON under
// rbac:perms:{generation}:{userID}. Bumping the generation orphans every
// entry, which then expires by TTL.
type RedisPermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPermissionCache(client *redis.Client, ttl time.Duration) *RedisPermissionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPermissionCache{client: client, ttl: ttl}
}

func entryKey(generation, userID int64) string {
	return keyPrefix + strconv.FormatInt(generation, 10) + ":" + strconv.FormatInt(userID, 10)
}

func (c *RedisPermissionCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisPermissionCache) Get(ctx context.Context, userID int64) ([]string, int64, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, 0, false, err
	}

	raw, err := c.client.Get(ctx, entryKey(gen, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, err
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, gen, false, fmt.Errorf("decode cached permissions: %w", err)
	}
	return names, gen, true, nil
}

// Set stores names under the generation observed by the preceding Get. A
// concurrent Invalidate makes the write land under a dead generation.
func (c *RedisPermissionCache) Set(ctx context.Context, generation, userID int64, names []string) error {
	if names == nil {
		names = []string{}
	}
	payload, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, entryKey(generation, userID), string(payload), c.ttl).Err()
}

func (c *RedisPermissionCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}
