package projection

import (
	"context"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("projection",
	fx.Provide(NewRegistry),
	fx.Invoke(StartProcessors),
)

var Gateway = fx.Module("projection.gateway",
	fx.Invoke(registerRoutes),
)

// StartProcessors runs every processing group for the lifetime of the app.
func StartProcessors(lc fx.Lifecycle, r *Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := r.Run(ctx); err != nil {
					zap.L().Error("[Processor] processing groups stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func registerRoutes(mux *runtime.ServeMux, r *Registry) error {
	if err := r.RegisterRoutes(mux); err != nil {
		zap.L().Error("failed to register processor http routes", zap.Error(err))
		return err
	}
	return nil
}
