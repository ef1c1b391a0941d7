package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/repository"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultTimeout = 5 * time.Minute

var ErrSagaNotFound = errors.New("creation saga not found")

// Coordinator creates an account together with its first loyalty bank and
// rolls both back when they are not confirmed before the deadline.
type Coordinator struct {
	db        *gorm.DB
	sagas     repository.Repository[Saga]
	accounts  AccountGateway
	banks     LoyaltyBankGateway
	deadlines DeadlineManager
	timeout   time.Duration
	now       func() time.Time
}

type CoordinatorParams struct {
	fx.In
	DB        *gorm.DB
	Accounts  AccountGateway
	Banks     LoyaltyBankGateway
	Deadlines DeadlineManager
	Config    *config.Config
}

func NewCoordinator(p CoordinatorParams) *Coordinator {
	timeout := p.Config.Saga.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		db:        p.DB,
		sagas:     repository.ProvideStore[Saga](p.DB),
		accounts:  p.Accounts,
		banks:     p.Banks,
		deadlines: p.Deadlines,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Start arms the saga and dispatches both creations. Starting the same
// request twice is a no-op. A rejected creation is returned as is; the
// deadline compensates whatever was created.
func (c *Coordinator) Start(ctx context.Context, cmd StartCreation) error {
	if err := es.Validate(cmd); err != nil {
		return err
	}

	zapLog := zap.L().With(append(logger.TraceFields(ctx),
		zap.String("request_id", cmd.RequestID),
		zap.String("account_id", cmd.AccountID),
		zap.String("loyalty_bank_id", cmd.LoyaltyBankID),
	)...)

	created, err := c.sagas.CreateIfAbsent(ctx, &Saga{
		RequestID:     cmd.RequestID,
		AccountID:     cmd.AccountID,
		LoyaltyBankID: cmd.LoyaltyBankID,
		BusinessID:    cmd.BusinessID,
		FirstName:     cmd.FirstName,
		LastName:      cmd.LastName,
		Email:         account.NormalizeEmail(cmd.Email),
		Status:        StatusStarted,
	})
	if err != nil {
		return err
	}
	if !created {
		zapLog.Info("[Saga] creation already started")
		return nil
	}

	deadlineID, err := c.deadlines.Schedule(ctx, cmd.RequestID, c.timeout)
	if err != nil {
		zapLog.Error("[Saga] failed to schedule deadline", zap.Error(err))
		if _, terr := c.transition(context.WithoutCancel(ctx), c.db, cmd.RequestID, StatusRolledBack); terr != nil {
			zapLog.Error("[Saga] failed to close saga without deadline", zap.Error(terr))
		}
		return errutil.Internal("failed to schedule creation deadline", err)
	}

	if err := c.update(ctx, cmd.RequestID, map[string]any{"deadline_id": deadlineID}); err != nil {
		return err
	}
	zapLog.Info("[Saga] creation started", zap.String("deadline_id", deadlineID), zap.Duration("timeout", c.timeout))

	if err := c.accounts.CreateAccount(ctx, account.CreateAccount{
		Envelope:  account.Envelope{RequestID: cmd.RequestID, AccountID: cmd.AccountID},
		FirstName: cmd.FirstName,
		LastName:  cmd.LastName,
		Email:     cmd.Email,
	}); err != nil {
		zapLog.Warn("[Saga] account creation rejected, waiting for deadline", zap.Error(err))
		return err
	}

	if err := c.banks.CreateLoyaltyBank(ctx, ledger.CreateLoyaltyBank{
		Envelope:   ledger.Envelope{RequestID: cmd.RequestID, LoyaltyBankID: cmd.LoyaltyBankID},
		AccountID:  cmd.AccountID,
		BusinessID: cmd.BusinessID,
	}); err != nil {
		zapLog.Warn("[Saga] loyalty bank creation rejected, waiting for deadline", zap.Error(err))
		return err
	}

	return nil
}

// End completes a started saga and cancels its deadline. It reports whether
// this call completed it.
func (c *Coordinator) End(ctx context.Context, requestID string) (bool, error) {
	return c.end(ctx, c.db, requestID)
}

func (c *Coordinator) end(ctx context.Context, db *gorm.DB, requestID string) (bool, error) {
	won, err := c.transition(ctx, db, requestID, StatusEnded)
	if err != nil || !won {
		return false, err
	}

	saga, err := c.sagas.WithTrx(db).FindOne(ctx, &Saga{RequestID: requestID})
	if err != nil {
		return true, err
	}

	zapLog := zap.L().With(zap.String("request_id", requestID))
	if saga != nil && saga.DeadlineID != "" {
		// the deadline stays armed until the ended status is committed; one
		// that still fires finds the saga ended and does nothing
		deadlineID := saga.DeadlineID
		es.AfterCommit(ctx, func(ctx context.Context) {
			if err := c.deadlines.Cancel(ctx, deadlineID); err != nil {
				zapLog.Warn("[Saga] failed to cancel deadline", zap.String("deadline_id", deadlineID), zap.Error(err))
			}
		})
	}

	zapLog.Info("[Saga] creation completed")
	return true, nil
}

// HandleDeadline rolls back both creations of a saga that is still started.
// Late or repeated fires are no-ops, except that a rollback which failed
// part way is retried.
func (c *Coordinator) HandleDeadline(ctx context.Context, requestID string) error {
	zapLog := zap.L().With(append(logger.TraceFields(ctx), zap.String("request_id", requestID))...)

	res := c.db.WithContext(ctx).Model(&Saga{}).
		Where("request_id = ? AND (status = ? OR (status = ? AND compensation_error <> ''))",
			requestID, StatusStarted, StatusRolledBack).
		Updates(map[string]any{
			"status":             StatusRolledBack,
			"compensation_error": "",
			"finished_at":        c.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		zapLog.Info("[Saga] deadline fired for a finished saga, ignoring")
		return nil
	}

	saga, err := c.sagas.FindOne(ctx, &Saga{RequestID: requestID})
	if err != nil {
		return err
	}
	if saga == nil {
		return errutil.NotFound(fmt.Sprintf("creation saga %s not found", requestID), ErrSagaNotFound)
	}

	zapLog.Warn("[Saga] creation timed out, rolling back",
		zap.String("account_id", saga.AccountID),
		zap.String("loyalty_bank_id", saga.LoyaltyBankID),
	)

	var errs []error
	if _, err := c.accounts.RollbackAccountCreation(ctx, account.RollbackAccountCreation{
		Envelope: account.Envelope{RequestID: requestID, AccountID: saga.AccountID},
	}); err != nil {
		errs = append(errs, fmt.Errorf("rollback account %s: %w", saga.AccountID, err))
	}
	if _, err := c.banks.RollbackLoyaltyBankCreation(ctx, ledger.RollbackLoyaltyBankCreation{
		Envelope: ledger.Envelope{RequestID: requestID, LoyaltyBankID: saga.LoyaltyBankID},
	}); err != nil {
		errs = append(errs, fmt.Errorf("rollback loyalty bank %s: %w", saga.LoyaltyBankID, err))
	}

	if err := errors.Join(errs...); err != nil {
		zapLog.Error("[Saga] rollback incomplete", zap.Error(err))
		if uerr := c.update(context.WithoutCancel(ctx), requestID, map[string]any{"compensation_error": err.Error()}); uerr != nil {
			zapLog.Error("[Saga] failed to record compensation error", zap.Error(uerr))
		}
		return errutil.Internal("creation rollback incomplete", err)
	}

	zapLog.Info("[Saga] creation rolled back")
	return nil
}

// Find returns the saga of requestID.
func (c *Coordinator) Find(ctx context.Context, requestID string) (*Saga, error) {
	saga, err := c.sagas.FindOne(ctx, &Saga{RequestID: requestID})
	if err != nil {
		return nil, err
	}
	if saga == nil {
		return nil, errutil.NotFound(fmt.Sprintf("creation saga %s not found", requestID), ErrSagaNotFound)
	}
	return saga, nil
}

// transition moves a started saga to status and reports whether this call did it.
func (c *Coordinator) transition(ctx context.Context, db *gorm.DB, requestID string, status Status) (bool, error) {
	res := db.WithContext(ctx).Model(&Saga{}).
		Where("request_id = ? AND status = ?", requestID, StatusStarted).
		Updates(map[string]any{
			"status":      status,
			"finished_at": c.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (c *Coordinator) update(ctx context.Context, requestID string, fields map[string]any) error {
	return c.db.WithContext(ctx).Model(&Saga{}).Where("request_id = ?", requestID).Updates(fields).Error
}
