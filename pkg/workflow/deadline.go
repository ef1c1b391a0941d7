package workflow

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"smallbiznis-loyalty/pkg/errutil"
)

const (
	WorkflowCreationDeadline     = "CreationDeadline"
	ActivityFireCreationDeadline = "FireCreationDeadline"
	SignalCancelDeadline         = "cancel-deadline"
)

// DeadlineWorkflowID is the workflow id used for the deadline of requestID.
func DeadlineWorkflowID(requestID string) string {
	return "creation-deadline-" + requestID
}

type DeadlineInput struct {
	RequestID string        `json:"request_id"`
	Timeout   time.Duration `json:"timeout"`
}

// DeadlineHandler is invoked when a creation deadline fires.
type DeadlineHandler interface {
	HandleDeadline(ctx context.Context, requestID string) error
}

type Activities struct {
	Handler DeadlineHandler
}

func NewActivities(h DeadlineHandler) *Activities {
	return &Activities{Handler: h}
}

func (a *Activities) FireCreationDeadline(ctx context.Context, requestID string) error {
	err := a.Handler.HandleDeadline(ctx, requestID)
	if err != nil && errutil.IsClientError(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), string(errutil.StatusOf(err)), err)
	}
	return err
}

// CreationDeadlineWorkflow waits for either the timeout or a cancel signal.
// It reports whether the deadline fired.
func CreationDeadlineWorkflow(ctx workflow.Context, in DeadlineInput) (bool, error) {
	logger := workflow.GetLogger(ctx)

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, in.Timeout)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancelDeadline)

	fired := false
	selector := workflow.NewSelector(ctx)
	selector.AddFuture(timer, func(f workflow.Future) {
		if err := f.Get(ctx, nil); err == nil {
			fired = true
		}
	})
	selector.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, nil)
		cancelTimer()
	})
	selector.Select(ctx)

	if !fired {
		logger.Info("creation deadline cancelled", "request_id", in.RequestID)
		return false, nil
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	if err := workflow.ExecuteActivity(ctx, ActivityFireCreationDeadline, in.RequestID).Get(ctx, nil); err != nil {
		logger.Error("failed to fire creation deadline", "request_id", in.RequestID, "error", err)
		return true, err
	}

	return true, nil
}
