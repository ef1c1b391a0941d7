package activity

import "time"

type EntityType string

const (
	EntityAccount     EntityType = "ACCOUNT"
	EntityBusiness    EntityType = "BUSINESS"
	EntityLoyaltyBank EntityType = "LOYALTY_BANK"
)

// ActivityLog is one human-readable line of an entity's history. ID is the
// id of the event that produced it.
type ActivityLog struct {
	ID         string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	EntityID   string     `gorm:"column:entity_id;type:varchar(64);index:idx_activity_entity_position,priority:1" json:"entity_id"`
	EntityType EntityType `gorm:"column:entity_type;type:varchar(20)" json:"entity_type"`
	Position   int64      `gorm:"column:position;index:idx_activity_entity_position,priority:2" json:"-"`
	EventType  string     `gorm:"column:event_type;type:varchar(64)" json:"event_type"`
	Message    string     `gorm:"column:message;type:text" json:"message"`
	RequestID  string     `gorm:"column:request_id;type:varchar(64)" json:"request_id"`
	Timestamp  time.Time  `gorm:"column:timestamp" json:"timestamp"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}
