package expiration

import (
	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/sequence"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func provideJob(db *gorm.DB, sender CommandSender, codes sequence.Generator, node *snowflake.Node, cfg *config.Config) *Job {
	return NewJob(db, sender, codes, node,
		WithRetentionWindow(cfg.Expiration.RetentionWindow),
		WithConcurrency(cfg.Expiration.Concurrency),
	)
}

func provideSender(enqueuer task.Enqueuer) CommandSender {
	return NewAsynqSender(enqueuer)
}

func provideTaskHandler(l *ledger.Service) *TaskHandler {
	return NewTaskHandler(l)
}

func registerTaskHandler(mux *asynq.ServeMux, h *TaskHandler) {
	h.Register(mux)
}

// SchedulerModule runs the expiration job on its interval, sending commands through asynq.
var SchedulerModule = fx.Module("expiration.scheduler",
	fx.Provide(
		provideSender,
		provideJob,
		NewScheduler,
	),
	fx.Invoke(StartScheduler),
)

// WorkerModule consumes the expire tasks.
var WorkerModule = fx.Module("expiration.worker",
	fx.Provide(provideTaskHandler),
	fx.Invoke(registerTaskHandler),
)
