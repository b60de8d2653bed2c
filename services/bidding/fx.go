package bidding

import "go.uber.org/fx"

var Module = fx.Module("bidding.service",
	fx.Provide(NewService),
)
