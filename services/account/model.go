package account

import "time"

// Lookup is the account lookup read model; it enforces email uniqueness
// for new accounts.
type Lookup struct {
	ID           string    `gorm:"column:id;primaryKey;type:varchar(64)" json:"account_id"`
	Email        string    `gorm:"column:email;type:varchar(255);uniqueIndex" json:"email"`
	FirstName    string    `gorm:"column:first_name;type:varchar(100)" json:"first_name"`
	LastName     string    `gorm:"column:last_name;type:varchar(100)" json:"last_name"`
	LastSequence int64     `gorm:"column:last_sequence;not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Lookup) TableName() string {
	return "account_lookups"
}
