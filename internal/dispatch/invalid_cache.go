// internal/dispatch/invalid_cache.go
package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"transit-notifications/internal/common/errors"
)

const invalidTokenSetKey = "fcm:invalid_tokens"

// InvalidTokenCache remembers tokens the gateway rejected permanently so
// subsequent sends skip them without a gateway round trip. The set expires as
// a whole; a token can age back in and be rediscovered invalid.
type InvalidTokenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewInvalidTokenCache(rdb *redis.Client, ttl time.Duration) *InvalidTokenCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &InvalidTokenCache{rdb: rdb, ttl: ttl}
}

// Add records tokens as invalid and refreshes the set's expiry.
func (c *InvalidTokenCache) Add(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	members := make([]interface{}, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}
	if err := c.rdb.SAdd(ctx, invalidTokenSetKey, members...).Err(); err != nil {
		return errors.NewCacheUnavailableError(err)
	}
	if err := c.rdb.Expire(ctx, invalidTokenSetKey, c.ttl).Err(); err != nil {
		return errors.NewCacheUnavailableError(err)
	}
	return nil
}

// Contains reports whether token is cached as invalid.
func (c *InvalidTokenCache) Contains(ctx context.Context, token string) (bool, error) {
	return c.rdb.SIsMember(ctx, invalidTokenSetKey, token).Result()
}

// Filter splits tokens into sendable and cached-invalid. On cache errors it
// fails open: all tokens are treated sendable and the error is returned for
// logging only.
func (c *InvalidTokenCache) Filter(ctx context.Context, tokens []string) (valid, cached []string, err error) {
	if len(tokens) == 0 {
		return nil, nil, nil
	}

	flags, err := c.rdb.SMIsMember(ctx, invalidTokenSetKey, tokensToMembers(tokens)...).Result()
	if err != nil {
		return tokens, nil, errors.NewCacheUnavailableError(err)
	}
	if len(flags) != len(tokens) {
		return tokens, nil, nil
	}

	for i, token := range tokens {
		if flags[i] {
			cached = append(cached, token)
		} else {
			valid = append(valid, token)
		}
	}
	return valid, cached, nil
}

// Count returns the number of cached invalid tokens.
func (c *InvalidTokenCache) Count(ctx context.Context) int64 {
	count, err := c.rdb.SCard(ctx, invalidTokenSetKey).Result()
	if err != nil {
		return 0
	}
	return count
}

func tokensToMembers(tokens []string) []interface{} {
	members := make([]interface{}, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}
	return members
}
