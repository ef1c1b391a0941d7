package activity

import (
	"context"
	"fmt"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/repository"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/business"
	"smallbiznis-loyalty/services/ledger"

	"gorm.io/gorm"
)

// Projection writes one activity_logs row per account, business and loyalty
// bank event.
type Projection struct {
	logs repository.Repository[ActivityLog]
}

func NewProjection(db *gorm.DB) *Projection {
	return &Projection{logs: repository.ProvideStore[ActivityLog](db)}
}

func (p *Projection) Handle(ctx context.Context, tx *gorm.DB, rec es.Record) error {
	var (
		entity  EntityType
		message string
		err     error
	)

	switch rec.AggregateType {
	case account.AggregateType:
		entity = EntityAccount
		message, err = accountMessage(rec)
	case business.AggregateType:
		entity = EntityBusiness
		message, err = businessMessage(rec)
	case ledger.AggregateType:
		entity = EntityLoyaltyBank
		message, err = ledgerMessage(rec)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	_, err = p.logs.WithTrx(tx).CreateIfAbsent(ctx, &ActivityLog{
		ID:         rec.EventID,
		EntityID:   rec.AggregateID,
		EntityType: entity,
		Position:   rec.Position,
		EventType:  rec.EventType,
		Message:    message,
		RequestID:  rec.RequestID,
		Timestamp:  rec.OccurredAt,
	})
	return err
}

func accountMessage(rec es.Record) (string, error) {
	ev, err := account.DecodeEvent(rec)
	if err != nil {
		return "", err
	}

	switch e := ev.(type) {
	case account.AccountCreated:
		return fmt.Sprintf("Account created for %s %s (%s)", e.FirstName, e.LastName, e.Email), nil
	case account.AccountUpdated:
		return fmt.Sprintf("Account updated to %s %s (%s)", e.FirstName, e.LastName, e.Email), nil
	case account.AccountDeleted:
		return withReason("Account deleted", e.Reason), nil
	}
	return rec.EventType, nil
}

func businessMessage(rec es.Record) (string, error) {
	ev, err := business.DecodeEvent(rec)
	if err != nil {
		return "", err
	}

	switch e := ev.(type) {
	case business.BusinessEnrolled:
		return fmt.Sprintf("Business %q enrolled", e.Name), nil
	case business.BusinessUpdated:
		return fmt.Sprintf("Business renamed to %q", e.Name), nil
	case business.BusinessDeleted:
		return "Business deleted", nil
	}
	return rec.EventType, nil
}

func ledgerMessage(rec es.Record) (string, error) {
	ev, err := ledger.DecodeEvent(rec)
	if err != nil {
		return "", err
	}

	switch e := ev.(type) {
	case ledger.LoyaltyBankCreated:
		return fmt.Sprintf("Loyalty bank opened for account %s at business %s", e.AccountID, e.BusinessID), nil
	case ledger.PendingTransactionCreated:
		return fmt.Sprintf("%d pending points added (transaction %s)", e.Points, e.TransactionID), nil
	case ledger.EarnedTransactionCreated:
		if e.PendingTransactionID != "" {
			return fmt.Sprintf("Earned %d points from pending transaction %s (transaction %s)", e.Points, e.PendingTransactionID, e.TransactionID), nil
		}
		return fmt.Sprintf("Earned %d points (transaction %s)", e.Points, e.TransactionID), nil
	case ledger.PointsAuthorized:
		return fmt.Sprintf("Authorized %d points for payment %s", e.Points, e.PaymentID), nil
	case ledger.PointsCaptured:
		return fmt.Sprintf("Captured %d points for payment %s", e.Points, e.PaymentID), nil
	case ledger.PointsVoided:
		return fmt.Sprintf("Voided %d points for payment %s", e.Points, e.PaymentID), nil
	case ledger.TransactionExpired:
		return fmt.Sprintf("%d %s points expired from transaction %s", e.PointsExpired, e.Bucket, e.TargetTransactionID), nil
	case ledger.LoyaltyBankDeleted:
		return withReason("Loyalty bank closed", e.Reason), nil
	}
	return rec.EventType, nil
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + ": " + reason
}
