package main

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	pkgasynq "tradepoint-marketplace/pkg/asynq"
	"tradepoint-marketplace/pkg/config"
	"tradepoint-marketplace/pkg/db"
	"tradepoint-marketplace/pkg/gen"
	"tradepoint-marketplace/pkg/logger"
	"tradepoint-marketplace/pkg/redis"
	"tradepoint-marketplace/pkg/server"

	"tradepoint-marketplace/internal/httpapi"
	"tradepoint-marketplace/services/bidding"
	"tradepoint-marketplace/services/cases"
	"tradepoint-marketplace/services/negotiation"
	"tradepoint-marketplace/services/notify"
	"tradepoint-marketplace/services/points"
	"tradepoint-marketplace/services/tier"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgasynq.Client,
		pkgasynq.Server,
		gen.Module,
		fx.Provide(provideTracerProvider),
		fx.Invoke(instrumentDB, migrate),

		cases.Module,
		points.Module,
		negotiation.Module,
		bidding.Module,
		notify.Module,
		notify.TaskModule,

		httpapi.Module,
		server.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func instrumentDB(gdb *gorm.DB, cfg *config.Config) error {
	if err := db.Otel(gdb); err != nil {
		return err
	}
	return db.Metric(gdb, cfg.Database.DBName)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&tier.TierLimits{},
		&points.Account{},
		&points.Transaction{},
		&cases.Case{},
		&cases.Bid{},
		&notify.Notification{},
	)
}
