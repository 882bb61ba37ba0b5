package sync

import (
	"context"

	"github.com/evalhub/meterd/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("meter.sync",
	fx.Provide(provideConfig),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func provideConfig(cfg config.Config) Config {
	return Config{
		Enabled:    cfg.Sync.Enabled,
		Interval:   cfg.Sync.Interval,
		BatchSize:  cfg.Sync.BatchSize,
		RunTimeout: cfg.Sync.RunTimeout,
		LockTTL:    cfg.Sync.LockTTL,
	}.withDefaults()
}

func runWorker(lc fx.Lifecycle, worker *Worker) {
	if !worker.cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go worker.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
