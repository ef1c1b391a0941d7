package redemption

import (
	"errors"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/errutil"
)

var (
	ErrTrackerNotFound        = errors.New("redemption tracker not found")
	ErrExcessiveCapturePoints = errors.New("excessive capture points")
	ErrExcessiveVoidPoints    = errors.New("excessive void points")
	ErrInvalidPoints          = errors.New("points must be positive")
	ErrLoyaltyBankMismatch    = errors.New("payment belongs to another loyalty bank")
)

// Tracker is the redemption bookkeeping of one payment. The amount still
// available for capture or void is derived, never stored.
type Tracker struct {
	PaymentID        string    `gorm:"column:payment_id;primaryKey;type:varchar(64)" json:"payment_id"`
	LoyaltyBankID    string    `gorm:"column:loyalty_bank_id;type:varchar(64);index" json:"loyalty_bank_id"`
	AuthorizedPoints int64     `gorm:"column:authorized_points;not null;default:0" json:"authorized_points"`
	CapturedPoints   int64     `gorm:"column:captured_points;not null;default:0" json:"captured_points"`
	VoidedPoints     int64     `gorm:"column:voided_points;not null;default:0" json:"voided_points"`
	LastSequence     int64     `gorm:"column:last_sequence;not null;default:0" json:"-"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Tracker) TableName() string {
	return "redemption_trackers"
}

func NewTracker(paymentID, loyaltyBankID string) *Tracker {
	return &Tracker{PaymentID: paymentID, LoyaltyBankID: loyaltyBankID}
}

func (t *Tracker) PointsAvailableForRedemption() int64 {
	return t.AuthorizedPoints - t.CapturedPoints - t.VoidedPoints
}

func (t *Tracker) AddAuthorizedPoints(points int64) error {
	if points <= 0 {
		return invalidPoints(points)
	}
	t.AuthorizedPoints += points
	return nil
}

// AddCapturedPoints fails without changing t when points exceed what is available.
func (t *Tracker) AddCapturedPoints(points int64) error {
	if points <= 0 {
		return invalidPoints(points)
	}
	if available := t.PointsAvailableForRedemption(); points > available {
		return errutil.UnprocessableEntity(
			fmt.Sprintf("payment %s: capture of %d exceeds %d available points", t.PaymentID, points, available),
			ErrExcessiveCapturePoints,
		)
	}
	t.CapturedPoints += points
	return nil
}

// VoidAuthorizedPoints fails without changing t when points exceed what is available.
func (t *Tracker) VoidAuthorizedPoints(points int64) error {
	if points <= 0 {
		return invalidPoints(points)
	}
	if available := t.PointsAvailableForRedemption(); points > available {
		return errutil.UnprocessableEntity(
			fmt.Sprintf("payment %s: void of %d exceeds %d available points", t.PaymentID, points, available),
			ErrExcessiveVoidPoints,
		)
	}
	t.VoidedPoints += points
	return nil
}

func invalidPoints(points int64) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("points must be positive, got %d", points), ErrInvalidPoints)
}

func TrackerNotFound(paymentID string) error {
	return errutil.NotFound(fmt.Sprintf("no redemption recorded for payment %s", paymentID), ErrTrackerNotFound)
}
