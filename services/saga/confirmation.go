package saga

import (
	"context"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/ledger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConfirmationHandler listens for the creation events of started sagas and
// ends a saga once both its account and its loyalty bank exist.
type ConfirmationHandler struct {
	coordinator *Coordinator
}

func NewConfirmationHandler(c *Coordinator) *ConfirmationHandler {
	return &ConfirmationHandler{coordinator: c}
}

func (h *ConfirmationHandler) Handle(ctx context.Context, tx *gorm.DB, rec es.Record) error {
	if rec.RequestID == "" {
		return nil
	}

	var flag, idColumn string
	switch {
	case rec.AggregateType == account.AggregateType && rec.EventType == account.EventAccountCreated:
		flag, idColumn = "account_confirmed", "account_id"
	case rec.AggregateType == ledger.AggregateType && rec.EventType == ledger.EventLoyaltyBankCreated:
		flag, idColumn = "loyalty_bank_confirmed", "loyalty_bank_id"
	default:
		return nil
	}

	res := tx.WithContext(ctx).Model(&Saga{}).
		Where("request_id = ? AND status = ? AND "+idColumn+" = ?", rec.RequestID, StatusStarted, rec.AggregateID).
		Update(flag, true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	var saga Saga
	if err := tx.WithContext(ctx).Where("request_id = ?", rec.RequestID).First(&saga).Error; err != nil {
		return err
	}

	zap.L().Debug("[Saga] creation confirmed",
		zap.String("request_id", rec.RequestID),
		zap.String("event_type", rec.EventType),
	)

	if !saga.AccountConfirmed || !saga.LoyaltyBankConfirmed {
		return nil
	}

	_, err := h.coordinator.end(ctx, tx, rec.RequestID)
	return err
}
