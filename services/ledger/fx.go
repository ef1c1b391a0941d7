package ledger

import (
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("ledger.gateway",
	fx.Invoke(registerRoutes),
)

func registerRoutes(mux *runtime.ServeMux, service *Service) error {
	if err := service.RegisterRoutes(mux); err != nil {
		zap.L().Error("failed to register loyalty bank http routes", zap.Error(err))
		return err
	}
	return nil
}
