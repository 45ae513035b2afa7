package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// RateLimiter: satu request per window per user (SET NX + TTL).
type RateLimiter struct {
	Redis  redis.Cmdable
	Window time.Duration
}

// Allow returns false when the user already placed a request inside the window.
// Window <= 0 disables the limiter.
func (l *RateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if l == nil || l.Window <= 0 {
		return true, nil
	}
	return l.Redis.SetNX(ctx, fmt.Sprintf(KeyRateLimitOrder, userID), "1", l.Window).Result()
}

// MarkOnce sets a dedup marker; false means the id was already seen.
func MarkOnce(ctx context.Context, rdb redis.Cmdable, service, id string) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
}

// Forget removes a dedup marker so a failed handler can be retried.
func Forget(ctx context.Context, rdb redis.Cmdable, service, id string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}
