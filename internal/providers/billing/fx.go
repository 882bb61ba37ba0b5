package billing

import (
	"github.com/evalhub/meterd/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.billing",
	fx.Provide(NewFromConfig),
)

// NewFromConfig selects the HTTP reporter when a reporter URL is
// configured, otherwise the log reporter so development syncs converge.
func NewFromConfig(cfg config.Config, log *zap.Logger) Reporter {
	if cfg.Sync.ReporterURL != "" {
		return NewHTTP(Config{
			URL:   cfg.Sync.ReporterURL,
			Token: cfg.Sync.ReporterToken,
		})
	}
	return NewLog(log)
}
