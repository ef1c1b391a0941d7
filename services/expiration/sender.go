package expiration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/taskname"
	"smallbiznis-loyalty/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// CommandSender delivers expire commands to the ledger.
type CommandSender interface {
	Send(ctx context.Context, cmd ledger.ExpireTransaction) error
}

// Expirer is the ledger operation the expire commands end up in.
type Expirer interface {
	ExpireTransaction(ctx context.Context, cmd ledger.ExpireTransaction) (int64, error)
}

// AsynqSender enqueues one task per command. The task id is derived from
// the run and the target, so resending within a run is deduplicated.
type AsynqSender struct {
	enqueuer task.Enqueuer
}

func NewAsynqSender(enqueuer task.Enqueuer) *AsynqSender {
	return &AsynqSender{enqueuer: enqueuer}
}

func (s *AsynqSender) Send(ctx context.Context, cmd ledger.ExpireTransaction) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	_, err = s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.LoyaltyPointsExpire, payload),
		asynq.Queue(taskname.QueueExpiration),
		asynq.TaskID(cmd.RequestID+":"+cmd.LoyaltyBankID+":"+cmd.TargetTransactionID),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Debug("expire task already enqueued",
			zap.String("request_id", cmd.RequestID),
			zap.String("target_transaction_id", cmd.TargetTransactionID),
		)
		return nil
	}
	return err
}

// DirectSender dispatches commands in process.
type DirectSender struct {
	ledger Expirer
}

func NewDirectSender(l Expirer) *DirectSender {
	return &DirectSender{ledger: l}
}

func (s *DirectSender) Send(ctx context.Context, cmd ledger.ExpireTransaction) error {
	_, err := s.ledger.ExpireTransaction(ctx, cmd)
	return err
}

// TaskHandler runs expire tasks on the asynq worker.
type TaskHandler struct {
	ledger Expirer
}

func NewTaskHandler(l Expirer) *TaskHandler {
	return &TaskHandler{ledger: l}
}

// HandleExpireTask dispatches the command carried by t. Rejections by the
// ledger are final; anything else is left to asynq to retry.
func (h *TaskHandler) HandleExpireTask(ctx context.Context, t *asynq.Task) error {
	var cmd ledger.ExpireTransaction
	if err := json.Unmarshal(t.Payload(), &cmd); err != nil {
		zap.L().Error("invalid expire payload", zap.Error(err))
		return fmt.Errorf("decode expire payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(append(logger.TraceFields(ctx),
		zap.String("request_id", cmd.RequestID),
		zap.String("loyalty_bank_id", cmd.LoyaltyBankID),
		zap.String("target_transaction_id", cmd.TargetTransactionID),
	)...)

	expired, err := h.ledger.ExpireTransaction(ctx, cmd)
	if err != nil {
		if errutil.IsClientError(err) {
			zapLog.Warn("expire command rejected", zap.Error(err))
			return fmt.Errorf("expire %s: %v: %w", cmd.TargetTransactionID, err, asynq.SkipRetry)
		}
		zapLog.Error("expire command failed", zap.Error(err))
		return err
	}

	zapLog.Info("transaction expired", zap.Int64("points_expired", expired))
	return nil
}

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.LoyaltyPointsExpire, h.HandleExpireTask)
}
