package ledger

import (
	"context"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ViewProjection maintains the loyalty_banks read model.
type ViewProjection struct {
	banks repository.Repository[LoyaltyBank]
}

func NewViewProjection(db *gorm.DB) *ViewProjection {
	return &ViewProjection{banks: repository.ProvideStore[LoyaltyBank](db)}
}

func (p *ViewProjection) Handle(ctx context.Context, tx *gorm.DB, rec es.Record) error {
	if rec.AggregateType != AggregateType {
		return nil
	}

	ev, err := DecodeEvent(rec)
	if err != nil {
		return err
	}

	banks := p.banks.WithTrx(tx)

	switch e := ev.(type) {
	case LoyaltyBankCreated:
		_, err := banks.CreateIfAbsent(ctx, &LoyaltyBank{
			ID:           e.LoyaltyBankID,
			AccountID:    e.AccountID,
			BusinessID:   e.BusinessID,
			LastSequence: rec.Sequence,
			CreatedAt:    e.Timestamp,
			UpdatedAt:    e.Timestamp,
		})
		return err

	case LoyaltyBankDeleted:
		return banks.Delete(ctx, &LoyaltyBank{ID: e.LoyaltyBankID})
	}

	bank, err := banks.FindOne(ctx, &LoyaltyBank{ID: rec.AggregateID})
	if err != nil {
		return err
	}
	if bank == nil {
		zap.L().Debug("loyalty bank view missing, skipping event",
			zap.String("loyalty_bank_id", rec.AggregateID),
			zap.String("event_type", rec.EventType),
		)
		return nil
	}
	if rec.Sequence <= bank.LastSequence {
		return nil
	}

	b := bank.Balances().add(Delta(ev))
	return banks.Update(ctx, bank.ID, map[string]any{
		"pending":       b.Pending,
		"earned":        b.Earned,
		"authorized":    b.Authorized,
		"captured":      b.Captured,
		"last_sequence": rec.Sequence,
		"updated_at":    rec.OccurredAt,
	})
}

// TransactionLogProjection appends one transaction_logs row per point movement.
type TransactionLogProjection struct {
	logs repository.Repository[TransactionLog]
}

func NewTransactionLogProjection(db *gorm.DB) *TransactionLogProjection {
	return &TransactionLogProjection{logs: repository.ProvideStore[TransactionLog](db)}
}

func (p *TransactionLogProjection) Handle(ctx context.Context, tx *gorm.DB, rec es.Record) error {
	if rec.AggregateType != AggregateType {
		return nil
	}

	ev, err := DecodeEvent(rec)
	if err != nil {
		return err
	}

	row := TransactionLog{
		ID:            rec.EventID,
		Position:      rec.Position,
		LoyaltyBankID: rec.AggregateID,
		RequestID:     rec.RequestID,
	}

	switch e := ev.(type) {
	case PendingTransactionCreated:
		row.TransactionID, row.Type, row.Points, row.Timestamp = e.TransactionID, TransactionPending, e.Points, e.Timestamp
	case EarnedTransactionCreated:
		row.TransactionID, row.Type, row.Points, row.Timestamp = e.TransactionID, TransactionEarned, e.Points, e.Timestamp
		row.TargetTransactionID = e.PendingTransactionID
	case PointsAuthorized:
		row.TransactionID, row.Type, row.Points, row.Timestamp = e.TransactionID, TransactionAuthorized, e.Points, e.Timestamp
		row.PaymentID = e.PaymentID
	case PointsCaptured:
		row.TransactionID, row.Type, row.Points, row.Timestamp = e.TransactionID, TransactionCaptured, e.Points, e.Timestamp
		row.PaymentID = e.PaymentID
	case PointsVoided:
		row.TransactionID, row.Type, row.Points, row.Timestamp = e.TransactionID, TransactionVoided, e.Points, e.Timestamp
		row.PaymentID = e.PaymentID
	case TransactionExpired:
		row.TransactionID, row.Type, row.Points, row.Timestamp = e.TransactionID, TransactionExpiredLog, e.PointsExpired, e.Timestamp
		row.TargetTransactionID = e.TargetTransactionID
	default:
		return nil
	}

	_, err = p.logs.WithTrx(tx).CreateIfAbsent(ctx, &row)
	return err
}
