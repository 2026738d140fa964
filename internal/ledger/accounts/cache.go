package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

const canonicalKeyPrefix = "ledger:canonical"

// CanonicalCache remembers which account ID is canonical for a pair.
// Balances are never cached.
type CanonicalCache interface {
	Get(ctx context.Context, category ledger.Category, subtype ledger.Subtype) (int64, bool, error)
	Set(ctx context.Context, category ledger.Category, subtype ledger.Subtype, accountID int64) error
	Invalidate(ctx context.Context, category ledger.Category, subtype ledger.Subtype) error
}

// RedisCache stores canonical IDs in Redis with a TTL. A nil *RedisCache is a pass-through.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds the cache helper.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

func canonicalKey(category ledger.Category, subtype ledger.Subtype) string {
	return fmt.Sprintf("%s:%s:%s", canonicalKeyPrefix, category, subtype)
}

// Get returns the cached account ID, reporting false on a miss.
func (c *RedisCache) Get(ctx context.Context, category ledger.Category, subtype ledger.Subtype) (int64, bool, error) {
	if c == nil || c.client == nil {
		return 0, false, nil
	}
	raw, err := c.client.Get(ctx, canonicalKey(category, subtype)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("accounts: corrupt canonical cache entry %q: %w", raw, err)
	}
	return id, true, nil
}

// Set caches accountID for the pair.
func (c *RedisCache) Set(ctx context.Context, category ledger.Category, subtype ledger.Subtype, accountID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, canonicalKey(category, subtype), strconv.FormatInt(accountID, 10), c.ttl).Err()
}

// Invalidate drops the cached entry for the pair.
func (c *RedisCache) Invalidate(ctx context.Context, category ledger.Category, subtype ledger.Subtype) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, canonicalKey(category, subtype)).Err()
}
