package redemption

import (
	"context"
	"fmt"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/repository"
	"smallbiznis-loyalty/services/ledger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Projection keeps one Tracker per payment from the ledger's redemption events.
type Projection struct {
	trackers repository.Repository[Tracker]
}

func NewProjection(db *gorm.DB) *Projection {
	return &Projection{trackers: repository.ProvideStore[Tracker](db)}
}

func (p *Projection) Handle(ctx context.Context, tx *gorm.DB, rec es.Record) error {
	if rec.AggregateType != ledger.AggregateType {
		return nil
	}

	switch rec.EventType {
	case ledger.EventPointsAuthorized, ledger.EventPointsCaptured, ledger.EventPointsVoided:
	default:
		return nil
	}

	ev, err := ledger.DecodeEvent(rec)
	if err != nil {
		return err
	}

	trackers := p.trackers.WithTrx(tx)

	var paymentID string
	switch e := ev.(type) {
	case ledger.PointsAuthorized:
		paymentID = e.PaymentID
	case ledger.PointsCaptured:
		paymentID = e.PaymentID
	case ledger.PointsVoided:
		paymentID = e.PaymentID
	}

	tracker, err := trackers.FindOne(ctx, &Tracker{PaymentID: paymentID})
	if err != nil {
		return err
	}

	isNew := tracker == nil
	if isNew {
		if _, ok := ev.(ledger.PointsAuthorized); !ok {
			return TrackerNotFound(paymentID)
		}
		tracker = NewTracker(paymentID, rec.AggregateID)
		tracker.CreatedAt = rec.OccurredAt
	}

	if tracker.LoyaltyBankID != rec.AggregateID {
		return errutil.Conflict(fmt.Sprintf("payment %s is tracked for loyalty bank %s, got %s", paymentID, tracker.LoyaltyBankID, rec.AggregateID), ErrLoyaltyBankMismatch)
	}
	if rec.Sequence <= tracker.LastSequence {
		return nil
	}

	switch e := ev.(type) {
	case ledger.PointsAuthorized:
		err = tracker.AddAuthorizedPoints(e.Points)
	case ledger.PointsCaptured:
		err = tracker.AddCapturedPoints(e.Points)
	case ledger.PointsVoided:
		err = tracker.VoidAuthorizedPoints(e.Points)
	}
	if err != nil {
		return err
	}

	tracker.LastSequence = rec.Sequence
	tracker.UpdatedAt = rec.OccurredAt

	if isNew {
		return trackers.Create(ctx, tracker)
	}

	zap.L().Debug("redemption tracker updated",
		zap.String("payment_id", paymentID),
		zap.Int64("available", tracker.PointsAvailableForRedemption()),
	)
	return tx.WithContext(ctx).Model(&Tracker{}).
		Where("payment_id = ?", paymentID).
		Updates(map[string]any{
			"authorized_points": tracker.AuthorizedPoints,
			"captured_points":   tracker.CapturedPoints,
			"voided_points":     tracker.VoidedPoints,
			"last_sequence":     tracker.LastSequence,
			"updated_at":        tracker.UpdatedAt,
		}).Error
}
