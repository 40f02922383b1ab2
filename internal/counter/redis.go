package counter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// DefaultRedisKey is the hash holding the running totals.
const DefaultRedisKey = "waste-sorter:counts"

// RedisClient keeps running totals in a Redis hash, one field per category.
// Merging happens server side with HINCRBY, so concurrent sorters sharing a
// key never overwrite each other.
type RedisClient struct {
	redis *redis.Client
	key   string
	keys  KeyMap
}

// NewRedisClient creates a client storing totals under key.
func NewRedisClient(redisClient *redis.Client, key string, keys KeyMap) *RedisClient {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisClient{redis: redisClient, key: key, keys: keys}
}

// Latest returns the stored totals. A missing hash reads as zero counts.
func (c *RedisClient) Latest(ctx context.Context) (logic.Counts, error) {
	fields, err := c.redis.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", c.key, err)
	}
	return c.decode(fields)
}

// Post increments the stored totals by delta in one transaction and returns the result.
func (c *RedisClient) Post(ctx context.Context, delta logic.Counts) (logic.Counts, error) {
	var all *redis.MapStringStringCmd
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for cat, n := range delta {
			if n == 0 {
				continue
			}
			field := c.keys.Key(cat)
			if field == "" {
				return fmt.Errorf("%w: %q", logic.ErrUnknownLabel, cat)
			}
			pipe.HIncrBy(ctx, c.key, field, int64(n))
		}
		all = pipe.HGetAll(ctx, c.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("increment %s: %w", c.key, err)
	}
	return c.decode(all.Val())
}

func (c *RedisClient) decode(fields map[string]string) (logic.Counts, error) {
	obj := make(map[string]int, len(fields))
	for k, v := range fields {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = n
	}
	return c.keys.Decode(obj), nil
}
