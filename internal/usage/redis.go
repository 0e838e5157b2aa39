package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys outlive their day so late reads around midnight still resolve.
const keyTTL = 48 * time.Hour

type RedisCounter struct {
	client *redis.Client
}

// NewRedisClient connects to redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func key(tenantID string, day time.Time) string {
	return fmt.Sprintf("usage:tenant:%s:%s", tenantID, DayKey(day))
}

func (c *RedisCounter) Current(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	count, err := c.client.Get(ctx, key(tenantID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Increment bumps the day's count and sets the key's TTL in one MULTI/EXEC.
// EXPIRE NX only applies the TTL the first time, so later increments keep it.
func (c *RedisCounter) Increment(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	k := key(tenantID, day)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, keyTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", k, err)
	}

	return incr.Val(), nil
}
