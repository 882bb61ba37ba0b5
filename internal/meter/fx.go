package meter

import (
	"github.com/evalhub/meterd/internal/meter/repository"
	"github.com/evalhub/meterd/internal/meter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("meter",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
