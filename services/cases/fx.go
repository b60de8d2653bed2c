package cases

import "go.uber.org/fx"

var Module = fx.Module("cases.repository",
	fx.Provide(NewRepository),
)
