package saga

import (
	"fmt"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/workflow"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/ledger"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/hibiken/asynq"
	"go.temporal.io/sdk/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type deadlineParams struct {
	fx.In
	Config    *config.Config
	Enqueuer  task.Enqueuer
	Inspector *asynq.Inspector
	Temporal  client.Client `optional:"true"`
}

func provideDeadlines(p deadlineParams) (DeadlineManager, error) {
	switch p.Config.Saga.DeadlineBackend {
	case BackendTemporal:
		if p.Temporal == nil {
			return nil, fmt.Errorf("saga deadline backend %q needs TEMPORAL.ADDR", BackendTemporal)
		}
		zap.L().Info("[Saga] using temporal deadlines")
		return NewTemporalDeadlines(p.Temporal, p.Config.Temporal.TaskQueue), nil
	case BackendAsynq, "":
		zap.L().Info("[Saga] using asynq deadlines")
		return NewAsynqDeadlines(p.Enqueuer, p.Inspector), nil
	default:
		return nil, fmt.Errorf("unknown saga deadline backend %q", p.Config.Saga.DeadlineBackend)
	}
}

func provideAccountGateway(s *account.Service) AccountGateway { return s }

func provideLoyaltyBankGateway(s *ledger.Service) LoyaltyBankGateway { return s }

func provideDeadlineHandler(c *Coordinator) workflow.DeadlineHandler { return c }

var Module = fx.Module("saga",
	fx.Provide(
		provideAccountGateway,
		provideLoyaltyBankGateway,
		provideDeadlines,
		NewCoordinator,
		NewConfirmationHandler,
		provideDeadlineHandler,
	),
)

// Gateway exposes the saga routes on the HTTP gateway.
var Gateway = fx.Module("saga.gateway",
	fx.Provide(NewRoutes),
	fx.Invoke(func(mux *runtime.ServeMux, r *Routes) error { return r.Register(mux) }),
)

// Worker consumes asynq deadline tasks.
var Worker = fx.Module("saga.worker",
	fx.Provide(NewDeadlineTaskHandler),
	fx.Invoke(func(mux *asynq.ServeMux, h *DeadlineTaskHandler) { h.Register(mux) }),
)
