package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/taskname"
	"smallbiznis-loyalty/pkg/workflow"

	"github.com/hibiken/asynq"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

const (
	BackendAsynq    = "asynq"
	BackendTemporal = "temporal"
)

// DeadlineManager schedules and cancels creation deadlines. A scheduled
// deadline ends in a call to Coordinator.HandleDeadline, possibly more than once.
type DeadlineManager interface {
	Schedule(ctx context.Context, requestID string, after time.Duration) (deadlineID string, err error)
	Cancel(ctx context.Context, deadlineID string) error
}

type deadlinePayload struct {
	RequestID string `json:"request_id"`
}

type taskDeleter interface {
	DeleteTask(queue, id string) error
}

// AsynqDeadlines backs deadlines with scheduled asynq tasks.
type AsynqDeadlines struct {
	enqueuer  task.Enqueuer
	inspector taskDeleter
}

func NewAsynqDeadlines(enqueuer task.Enqueuer, inspector *asynq.Inspector) *AsynqDeadlines {
	return &AsynqDeadlines{enqueuer: enqueuer, inspector: inspector}
}

func deadlineTaskID(requestID string) string {
	return "creation-deadline:" + requestID
}

func (d *AsynqDeadlines) Schedule(ctx context.Context, requestID string, after time.Duration) (string, error) {
	payload, err := json.Marshal(deadlinePayload{RequestID: requestID})
	if err != nil {
		return "", err
	}

	id := deadlineTaskID(requestID)
	_, err = d.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.SagaCreationDeadline, payload),
		asynq.TaskID(id),
		asynq.ProcessIn(after),
		asynq.Queue(taskname.QueueCritical),
		asynq.MaxRetry(10),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return "", err
	}
	return id, nil
}

func (d *AsynqDeadlines) Cancel(ctx context.Context, deadlineID string) error {
	err := d.inspector.DeleteTask(taskname.QueueCritical, deadlineID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}

// TemporalDeadlines backs deadlines with a workflow holding a durable timer.
type TemporalDeadlines struct {
	client    client.Client
	taskQueue string
}

func NewTemporalDeadlines(c client.Client, taskQueue string) *TemporalDeadlines {
	return &TemporalDeadlines{client: c, taskQueue: taskQueue}
}

func (d *TemporalDeadlines) Schedule(ctx context.Context, requestID string, after time.Duration) (string, error) {
	run, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflow.DeadlineWorkflowID(requestID),
		TaskQueue: d.taskQueue,
	}, workflow.WorkflowCreationDeadline, workflow.DeadlineInput{RequestID: requestID, Timeout: after})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return workflow.DeadlineWorkflowID(requestID), nil
		}
		return "", err
	}
	return run.GetID(), nil
}

func (d *TemporalDeadlines) Cancel(ctx context.Context, deadlineID string) error {
	err := d.client.SignalWorkflow(ctx, deadlineID, "", workflow.SignalCancelDeadline, nil)
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// DeadlineTaskHandler runs asynq deadline tasks on the worker.
type DeadlineTaskHandler struct {
	handler workflow.DeadlineHandler
}

func NewDeadlineTaskHandler(h workflow.DeadlineHandler) *DeadlineTaskHandler {
	return &DeadlineTaskHandler{handler: h}
}

func (h *DeadlineTaskHandler) HandleDeadlineTask(ctx context.Context, t *asynq.Task) error {
	var p deadlinePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid deadline payload", zap.Error(err))
		return fmt.Errorf("decode deadline payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.handler.HandleDeadline(ctx, p.RequestID); err != nil {
		if errutil.IsClientError(err) {
			return fmt.Errorf("deadline %s: %v: %w", p.RequestID, err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func (h *DeadlineTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.SagaCreationDeadline, h.HandleDeadlineTask)
}
