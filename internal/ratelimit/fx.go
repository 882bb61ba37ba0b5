package ratelimit

import (
	"context"

	"github.com/evalhub/meterd/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(
		provideRedisClient,
		NewLocker,
	),
)

// provideRedisClient returns nil when no address is configured. Locker
// tolerates a nil client and the worker falls back to unlocked runs.
func provideRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	addr := cfg.Sync.LockRedisAddr
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Sync.LockRedisPassword,
		DB:       cfg.Sync.LockRedisDB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed, sync lock degraded", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client
}
