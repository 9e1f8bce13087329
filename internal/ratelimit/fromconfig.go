package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/agentboard/internal/config"
)

// FromConfig builds the gate the configuration asks for. A configured Redis
// backend is probed with a short ping; if it does not answer, the in-process
// gate is used so startup never blocks on an absent dependency.
func FromConfig(ctx context.Context, cfg config.RateGateConfig) Gate {
	if cfg.RedisURL == "" {
		return NewMemoryGate(cfg.Limit, cfg.Window)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid REDIS_URL, using in-process rate gate")
		return NewMemoryGate(cfg.Limit, cfg.Window)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, using in-process rate gate")
		_ = client.Close()
		return NewMemoryGate(cfg.Limit, cfg.Window)
	}

	log.Info().Str("backend", "redis").Msg("rate gate initialized")
	return NewRedisGate(client, cfg.Limit, cfg.Window)
}
