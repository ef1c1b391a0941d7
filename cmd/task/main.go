package main

import (
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/db"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/featureflags"
	"smallbiznis-loyalty/pkg/gen"
	"smallbiznis-loyalty/pkg/hashistack/secretmanager"
	"smallbiznis-loyalty/pkg/lock"
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/otelcol"
	"smallbiznis-loyalty/pkg/profiling"
	"smallbiznis-loyalty/pkg/redis"
	"smallbiznis-loyalty/pkg/sequence"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/workflow"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/business"
	"smallbiznis-loyalty/services/expiration"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/saga"
)

// task runs the asynq workers, the temporal deadline worker and the
// expiration scheduler.
func main() {
	opts := []fx.Option{
		configModule(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		gen.Module,
		es.Module,
		redis.Module,
		lock.Module,
		sequence.Module,
		featureflags.Module,
		task.Client,
		task.Server,
		workflow.ProvideClient,
		workflow.Worker,
		account.Module,
		business.Module,
		ledger.Module,
		saga.Module,
		saga.Worker,
		expiration.WorkerModule,
		expiration.SchedulerModule,
		fxLogger,
	}
	if _, ok := os.LookupEnv("VAULT_ADDR"); ok {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func configModule() fx.Option {
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		return config.RemoteModule
	}
	return config.Module
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
