package saga

import "time"

type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusEnded      Status = "ENDED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Saga is one account plus loyalty bank creation. Rows are never deleted:
// a terminal row turns late signals for the same request into no-ops.
type Saga struct {
	RequestID            string     `gorm:"column:request_id;primaryKey;type:varchar(64)" json:"request_id"`
	AccountID            string     `gorm:"column:account_id;type:varchar(64);index;not null" json:"account_id"`
	LoyaltyBankID        string     `gorm:"column:loyalty_bank_id;type:varchar(64);index;not null" json:"loyalty_bank_id"`
	BusinessID           string     `gorm:"column:business_id;type:varchar(64);not null" json:"business_id"`
	FirstName            string     `gorm:"column:first_name;type:varchar(100)" json:"first_name"`
	LastName             string     `gorm:"column:last_name;type:varchar(100)" json:"last_name"`
	Email                string     `gorm:"column:email;type:varchar(255)" json:"email"`
	Status               Status     `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	DeadlineID           string     `gorm:"column:deadline_id;type:varchar(128)" json:"deadline_id,omitempty"`
	AccountConfirmed     bool       `gorm:"column:account_confirmed;not null;default:false" json:"account_confirmed"`
	LoyaltyBankConfirmed bool       `gorm:"column:loyalty_bank_confirmed;not null;default:false" json:"loyalty_bank_confirmed"`
	CompensationError    string     `gorm:"column:compensation_error;type:text" json:"compensation_error,omitempty"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	FinishedAt           *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (Saga) TableName() string {
	return "creation_sagas"
}

// StartCreation asks for an account and its first loyalty bank.
type StartCreation struct {
	RequestID     string `json:"request_id" validate:"required,max=64"`
	AccountID     string `json:"account_id" validate:"required,max=64"`
	LoyaltyBankID string `json:"loyalty_bank_id" validate:"required,max=64"`
	BusinessID    string `json:"business_id" validate:"required,max=64"`
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"max=100"`
	Email         string `json:"email" validate:"required,email,max=255"`
}
