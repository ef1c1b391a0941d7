package expiration

import (
	"context"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/repository"
	"smallbiznis-loyalty/services/ledger"

	"gorm.io/gorm"
)

// Tracker projects the transactions that may still expire.
type Tracker struct {
	transactions repository.Repository[Transaction]
}

func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{transactions: repository.ProvideStore[Transaction](db)}
}

func (t *Tracker) Handle(ctx context.Context, tx *gorm.DB, rec es.Record) error {
	if rec.AggregateType != ledger.AggregateType {
		return nil
	}

	switch rec.EventType {
	case ledger.EventPendingTransactionCreated, ledger.EventEarnedTransactionCreated,
		ledger.EventTransactionExpired, ledger.EventLoyaltyBankDeleted:
	default:
		return nil
	}

	ev, err := ledger.DecodeEvent(rec)
	if err != nil {
		return err
	}

	transactions := t.transactions.WithTrx(tx)

	switch e := ev.(type) {
	case ledger.PendingTransactionCreated:
		_, err := transactions.CreateIfAbsent(ctx, &Transaction{
			TransactionID: e.TransactionID,
			LoyaltyBankID: rec.AggregateID,
			Points:        e.Points,
			Bucket:        ledger.BucketPending,
			Timestamp:     e.Timestamp,
		})
		return err

	case ledger.EarnedTransactionCreated:
		created, err := transactions.CreateIfAbsent(ctx, &Transaction{
			TransactionID: e.TransactionID,
			LoyaltyBankID: rec.AggregateID,
			Points:        e.Points,
			Bucket:        ledger.BucketEarned,
			Timestamp:     e.Timestamp,
		})
		if err != nil || !created || e.PendingTransactionID == "" {
			return err
		}
		return t.consumePending(ctx, tx, rec.AggregateID, e.PendingTransactionID, e.Points)

	case ledger.TransactionExpired:
		return transactions.Delete(ctx, &Transaction{LoyaltyBankID: rec.AggregateID, TransactionID: e.TargetTransactionID})

	case ledger.LoyaltyBankDeleted:
		return transactions.Delete(ctx, &Transaction{LoyaltyBankID: rec.AggregateID})
	}

	return nil
}

// consumePending shrinks the pending row an earn drew from, dropping it once empty.
func (t *Tracker) consumePending(ctx context.Context, tx *gorm.DB, loyaltyBankID, transactionID string, points int64) error {
	key := &Transaction{LoyaltyBankID: loyaltyBankID, TransactionID: transactionID}
	transactions := t.transactions.WithTrx(tx)

	pending, err := transactions.FindOne(ctx, key)
	if err != nil || pending == nil {
		return err
	}

	if pending.Points <= points {
		return transactions.Delete(ctx, key)
	}
	return tx.WithContext(ctx).Model(&Transaction{}).
		Where("loyalty_bank_id = ? AND transaction_id = ?", loyaltyBankID, transactionID).
		Update("points", pending.Points-points).Error
}
