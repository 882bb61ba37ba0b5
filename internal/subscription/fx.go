package subscription

import (
	"github.com/evalhub/meterd/internal/cache"
	"github.com/evalhub/meterd/internal/subscription/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(
		repository.Provide,
		cache.NewSubscriptionCache,
	),
)
