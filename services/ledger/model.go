package ledger

import (
	"time"
)

// LoyaltyBank is the loyalty bank read model. It doubles as the lookup
// used by the one-bank-per-account check; deleted banks are removed.
type LoyaltyBank struct {
	ID           string    `gorm:"column:id;primaryKey;type:varchar(64)" json:"loyalty_bank_id"`
	AccountID    string    `gorm:"column:account_id;type:varchar(64);index" json:"account_id"`
	BusinessID   string    `gorm:"column:business_id;type:varchar(64);index" json:"business_id"`
	Pending      int64     `gorm:"column:pending;not null;default:0" json:"pending"`
	Earned       int64     `gorm:"column:earned;not null;default:0" json:"earned"`
	Authorized   int64     `gorm:"column:authorized;not null;default:0" json:"authorized"`
	Captured     int64     `gorm:"column:captured;not null;default:0" json:"captured"`
	LastSequence int64     `gorm:"column:last_sequence;not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (LoyaltyBank) TableName() string {
	return "loyalty_banks"
}

func (b LoyaltyBank) Balances() Balances {
	return Balances{Pending: b.Pending, Earned: b.Earned, Authorized: b.Authorized, Captured: b.Captured}
}

type TransactionType string

const (
	TransactionPending    TransactionType = "PENDING"
	TransactionEarned     TransactionType = "EARNED"
	TransactionAuthorized TransactionType = "AUTHORIZED"
	TransactionCaptured   TransactionType = "CAPTURED"
	TransactionVoided     TransactionType = "VOIDED"
	TransactionExpiredLog TransactionType = "EXPIRED"
)

// TransactionLog records every point movement. ID is the event id.
type TransactionLog struct {
	ID                  string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Position            int64           `gorm:"column:position;index" json:"-"`
	LoyaltyBankID       string          `gorm:"column:loyalty_bank_id;type:varchar(64);index" json:"loyalty_bank_id"`
	TransactionID       string          `gorm:"column:transaction_id;type:varchar(64);index" json:"transaction_id"`
	Type                TransactionType `gorm:"column:type;type:varchar(20)" json:"type"`
	Points              int64           `gorm:"column:points" json:"points"`
	PaymentID           string          `gorm:"column:payment_id;type:varchar(64)" json:"payment_id,omitempty"`
	TargetTransactionID string          `gorm:"column:target_transaction_id;type:varchar(64)" json:"target_transaction_id,omitempty"`
	RequestID           string          `gorm:"column:request_id;type:varchar(64)" json:"request_id"`
	Timestamp           time.Time       `gorm:"column:timestamp" json:"timestamp"`
}

func (TransactionLog) TableName() string {
	return "transaction_logs"
}
