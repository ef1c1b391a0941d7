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
	"smallbiznis-loyalty/pkg/gen"
	"smallbiznis-loyalty/pkg/hashistack/secretmanager"
	"smallbiznis-loyalty/pkg/hashistack/servicediscover"
	"smallbiznis-loyalty/pkg/health"
	"smallbiznis-loyalty/pkg/httpapi"
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/otelcol"
	"smallbiznis-loyalty/pkg/profiling"
	"smallbiznis-loyalty/pkg/redis"
	"smallbiznis-loyalty/pkg/sequence"
	"smallbiznis-loyalty/pkg/server"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/workflow"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/activity"
	"smallbiznis-loyalty/services/bootstrap"
	"smallbiznis-loyalty/services/business"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/projection"
	"smallbiznis-loyalty/services/query"
	"smallbiznis-loyalty/services/saga"
)

// loyalty serves the command and query APIs and runs the tracking processors.
func main() {
	opts := []fx.Option{
		configModule(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		bootstrap.Module,
		gen.Module,
		es.Module,
		redis.Module,
		sequence.Module,
		task.Client,
		workflow.ProvideClient,
		httpapi.Module,
		account.Module,
		account.Gateway,
		business.Module,
		business.Gateway,
		ledger.Module,
		ledger.Gateway,
		activity.Module,
		query.Module,
		query.Gateway,
		saga.Module,
		saga.Gateway,
		projection.Module,
		projection.Gateway,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		health.Module,
		servicediscover.Module,
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
