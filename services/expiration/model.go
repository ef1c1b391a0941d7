package expiration

import (
	"time"

	"smallbiznis-loyalty/services/ledger"

	"gorm.io/datatypes"
)

// Transaction is one not yet expired contribution to a bucket of a loyalty
// bank. Transaction ids are only unique within their bank.
type Transaction struct {
	LoyaltyBankID string        `gorm:"column:loyalty_bank_id;primaryKey;type:varchar(64);index:idx_expiration_bank_time,priority:1"`
	TransactionID string        `gorm:"column:transaction_id;primaryKey;type:varchar(64)"`
	Points        int64         `gorm:"column:points;not null"`
	Bucket        ledger.Bucket `gorm:"column:bucket;type:varchar(20);not null"`
	Timestamp     time.Time     `gorm:"column:timestamp;index;index:idx_expiration_bank_time,priority:2;not null"`
}

func (Transaction) TableName() string {
	return "expiration_transactions"
}

// Run is the audit row of one expiration job run.
type Run struct {
	ID         string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	RequestID  string         `gorm:"column:request_id;type:varchar(64);uniqueIndex;not null" json:"request_id"`
	Cutoff     time.Time      `gorm:"column:cutoff;not null" json:"cutoff"`
	Found      int            `gorm:"column:found;not null;default:0" json:"found"`
	Dispatched int            `gorm:"column:dispatched;not null;default:0" json:"dispatched"`
	Failed     int            `gorm:"column:failed;not null;default:0" json:"failed"`
	Failures   datatypes.JSON `gorm:"column:failures" json:"failures,omitempty"`
	StartedAt  time.Time      `gorm:"column:started_at" json:"started_at"`
	FinishedAt time.Time      `gorm:"column:finished_at" json:"finished_at"`
}

func (Run) TableName() string {
	return "expiration_runs"
}
