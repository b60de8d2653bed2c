package notify

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("notify.gateway",
	fx.Provide(
		fx.Annotate(
			func(client *asynq.Client) *AsynqGateway { return NewAsynqGateway(client) },
			fx.As(new(Gateway)),
		),
		NewFeed,
	),
)

var TaskModule = fx.Module("notify.task",
	fx.Provide(NewTask),
	fx.Invoke(RegisterHandlers),
)
