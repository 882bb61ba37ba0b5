package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/evalhub/meterd/internal/clock"
	"github.com/evalhub/meterd/internal/config"
	"github.com/evalhub/meterd/internal/logger"
	"github.com/evalhub/meterd/internal/meter"
	metersync "github.com/evalhub/meterd/internal/meter/sync"
	"github.com/evalhub/meterd/internal/migration"
	"github.com/evalhub/meterd/internal/observability"
	"github.com/evalhub/meterd/internal/providers/billing"
	"github.com/evalhub/meterd/internal/ratelimit"
	"github.com/evalhub/meterd/internal/server"
	"github.com/evalhub/meterd/internal/subscription"
	"github.com/evalhub/meterd/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		subscription.Module,
		meter.Module,
		billing.Module,
		ratelimit.Module,
		metersync.Module,

		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
