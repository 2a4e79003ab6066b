// internal/registry/cache.go
package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"transit-notifications/internal/models"
)

const tokenCacheKeyPrefix = "device_token:user:"

// TokenCache holds per-user active token lists in redis so hot send paths
// skip the database. Entries expire on their own; writes to the registry
// delete the owner's entry eagerly.
type TokenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTokenCache(rdb *redis.Client, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenCache{rdb: rdb, ttl: ttl}
}

func (c *TokenCache) key(userID string) string {
	return tokenCacheKeyPrefix + userID
}

// Get returns the cached token list, or ok=false on miss or cache error.
func (c *TokenCache) Get(ctx context.Context, userID string) ([]models.DeviceToken, bool) {
	raw, err := c.rdb.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		return nil, false
	}

	var tokens []models.DeviceToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, false
	}
	return tokens, true
}

func (c *TokenCache) Set(ctx context.Context, userID string, tokens []models.DeviceToken) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(userID), raw, c.ttl).Err()
}

func (c *TokenCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = c.key(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
