package negotiation

import "go.uber.org/fx"

var Module = fx.Module("negotiation.service",
	fx.Provide(NewService),
)
