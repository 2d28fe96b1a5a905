package main

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tunegrid-rewardplane/internal/httpapi"
	"tunegrid-rewardplane/pkg/chain"
	"tunegrid-rewardplane/pkg/config"
	"tunegrid-rewardplane/pkg/db"
	"tunegrid-rewardplane/pkg/gen"
	"tunegrid-rewardplane/pkg/logger"
	"tunegrid-rewardplane/pkg/redis"
	"tunegrid-rewardplane/pkg/server"
	"tunegrid-rewardplane/pkg/task"
	"tunegrid-rewardplane/services/campaign"
	"tunegrid-rewardplane/services/notification"
	"tunegrid-rewardplane/services/reward"
	"tunegrid-rewardplane/services/user"
	"tunegrid-rewardplane/services/withdrawal"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		gen.Module,
		chain.Module,
		fx.Provide(
			provideTracerProvider,
			provideMeterProvider,
		),
		user.Module,
		campaign.Module,
		reward.Module,
		withdrawal.Module,
		notification.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fx.Invoke(migrate, registerTelemetry),
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

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&user.User{},
		&campaign.AdCampaign{},
		&campaign.SponsoredPost{},
		&reward.RewardTransaction{},
		&reward.PostInteraction{},
	)
}

func registerTelemetry(gdb *gorm.DB, cfg *config.Config) error {
	if err := db.Otel(gdb); err != nil {
		return err
	}
	return db.Metric(gdb, cfg.Database.DBNAME)
}
