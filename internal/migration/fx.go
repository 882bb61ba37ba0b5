package migration

import (
	"strings"

	"github.com/evalhub/meterd/internal/config"
	"github.com/evalhub/meterd/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// golang-migrate drives postgres only; sqlite and mysql schemas
		// are created through AutoMigrate in development setups.
		if strings.EqualFold(conn.Dialector.Name(), "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			log.Info("skipping sql migrations for dialect",
				zap.String("dialect", conn.Dialector.Name()),
			)
			if err := seed.AutoMigrate(conn); err != nil {
				return err
			}
		}

		if cfg.Environment == "development" {
			return seed.EnsureDevSubscription(conn)
		}
		return nil
	}),
)
