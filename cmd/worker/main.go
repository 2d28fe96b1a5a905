package main

import (
	"log"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"tunegrid-rewardplane/pkg/chain"
	"tunegrid-rewardplane/pkg/config"
	"tunegrid-rewardplane/pkg/db"
	"tunegrid-rewardplane/pkg/gen"
	"tunegrid-rewardplane/pkg/logger"
	"tunegrid-rewardplane/pkg/task"
	"tunegrid-rewardplane/services/notification"
	"tunegrid-rewardplane/services/withdrawal"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		chain.Module,
		notification.Module,
		withdrawal.Module,
		task.Server,
		fx.Invoke(registerHandlers),
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

func registerHandlers(mux *asynq.ServeMux, h *withdrawal.TaskHandler) {
	withdrawal.RegisterTaskHandlers(mux, h)
}
