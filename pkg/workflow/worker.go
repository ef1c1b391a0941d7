package workflow

import (
	"context"

	"smallbiznis-loyalty/pkg/config"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Worker = fx.Module("temporal:worker",
	fx.Provide(NewActivities),
	fx.Invoke(RunWorker),
)

type WorkerParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Client     client.Client `optional:"true"`
	Activities *Activities
}

// Register adds the deadline workflow and its activity to r.
func Register(r worker.Registry, act *Activities) {
	r.RegisterWorkflowWithOptions(CreationDeadlineWorkflow, workflow.RegisterOptions{Name: WorkflowCreationDeadline})
	r.RegisterActivityWithOptions(act.FireCreationDeadline, activity.RegisterOptions{Name: ActivityFireCreationDeadline})
}

func RunWorker(p WorkerParams) {
	if p.Client == nil {
		zap.L().Info("temporal worker disabled")
		return
	}

	w := worker.New(p.Client, p.Config.Temporal.TaskQueue, worker.Options{})
	Register(w, p.Activities)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("starting temporal worker", zap.String("task_queue", p.Config.Temporal.TaskQueue))
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			w.Stop()
			return nil
		},
	})
}
