package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisGate is a fixed-window counter shared across replicas: INCR plus a
// first-hit EXPIRE, pipelined into one round trip. It fails open — when
// Redis is unreachable the write path keeps working and the outage is
// logged, because dropping legitimate posts is worse than a briefly
// unmetered window.
type RedisGate struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisGate constructs a Redis-backed gate.
func NewRedisGate(client *redis.Client, limit int, window time.Duration) *RedisGate {
	return &RedisGate{
		client: client,
		limit:  limit,
		window: window,
		prefix: "rategate:",
	}
}

// Allow implements Gate.
func (g *RedisGate) Allow(ctx context.Context, addr string) (bool, time.Duration, error) {
	key := g.prefix + addr

	pipe := g.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, g.window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("rate gate backend unavailable, admitting request")
		return true, 0, nil
	}

	if incr.Val() > int64(g.limit) {
		ttl, err := g.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = g.window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

// Sweep is a no-op: Redis expires keys on its own.
func (g *RedisGate) Sweep(context.Context) {}
