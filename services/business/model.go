package business

import "time"

// Lookup is the business lookup read model.
type Lookup struct {
	ID           string    `gorm:"column:id;primaryKey;type:varchar(64)" json:"business_id"`
	Name         string    `gorm:"column:name;type:varchar(255)" json:"name"`
	LastSequence int64     `gorm:"column:last_sequence;not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Lookup) TableName() string {
	return "business_lookups"
}
