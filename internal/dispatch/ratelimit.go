// internal/dispatch/ratelimit.go
package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitKeyPrefix = "fcm:rate_limit:"
	rateLimitKeyFormat = "200601021504" // yyyymmddhhmm, one counter per minute
	defaultRateLimit   = 500
)

// RateLimiter enforces the per-minute dispatch ceiling with an atomic redis
// counter keyed by the current minute. Reservation happens before the gateway
// call; callers that lose the reservation fail fast.
type RateLimiter struct {
	rdb   *redis.Client
	limit int
	now   func() time.Time
}

func NewRateLimiter(rdb *redis.Client, limit int) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	return &RateLimiter{rdb: rdb, limit: limit, now: time.Now}
}

func (r *RateLimiter) key() string {
	return rateLimitKeyPrefix + r.now().UTC().Format(rateLimitKeyFormat)
}

// Reserve atomically claims n slots in the current minute's window. When the
// claim overshoots the ceiling it is rolled back and Reserve returns false.
func (r *RateLimiter) Reserve(ctx context.Context, n int) (bool, error) {
	if n <= 0 {
		return true, nil
	}
	key := r.key()

	count, err := r.rdb.IncrBy(ctx, key, int64(n)).Result()
	if err != nil {
		return false, err
	}
	if count == int64(n) {
		// First writer of the window owns the expiry.
		r.rdb.Expire(ctx, key, time.Minute)
	}
	if count > int64(r.limit) {
		r.rdb.DecrBy(ctx, key, int64(n))
		return false, nil
	}
	return true, nil
}

// CurrentCount reports how many slots the current minute has consumed.
func (r *RateLimiter) CurrentCount(ctx context.Context) int64 {
	count, err := r.rdb.Get(ctx, r.key()).Int64()
	if err != nil {
		return 0
	}
	return count
}

// Limit returns the configured per-minute ceiling.
func (r *RateLimiter) Limit() int {
	return r.limit
}
