package es

import (
	"encoding/json"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/errutil"

	"gorm.io/datatypes"
)

// Event is implemented by every domain event. EventName is the stable type
// tag persisted next to the payload.
type Event interface {
	EventName() string
}

// Record is one persisted event. Position orders all events globally,
// Sequence orders the events of one aggregate starting at 1.
type Record struct {
	Position      int64          `gorm:"column:position;primaryKey;autoIncrement"`
	EventID       string         `gorm:"column:event_id;type:varchar(32);uniqueIndex;not null"`
	AggregateType string         `gorm:"column:aggregate_type;type:varchar(50);uniqueIndex:idx_domain_events_stream,priority:1;not null"`
	AggregateID   string         `gorm:"column:aggregate_id;type:varchar(64);uniqueIndex:idx_domain_events_stream,priority:2;not null"`
	Sequence      int64          `gorm:"column:sequence;uniqueIndex:idx_domain_events_stream,priority:3;not null"`
	EventType     string         `gorm:"column:event_type;type:varchar(100);not null"`
	RequestID     string         `gorm:"column:request_id;type:varchar(64);index"`
	Payload       datatypes.JSON `gorm:"column:payload;not null"`
	OccurredAt    time.Time      `gorm:"column:occurred_at;not null"`
}

func (Record) TableName() string {
	return "domain_events"
}

// Decode unmarshals the record payload into T. A payload that cannot be read
// is reported as a bad request so projections treat it as poison.
func Decode[T any](rec Record) (T, error) {
	var out T
	if err := json.Unmarshal(rec.Payload, &out); err != nil {
		return out, errutil.BadRequest(fmt.Sprintf("malformed %s payload at position %d", rec.EventType, rec.Position), err)
	}
	return out, nil
}

// UnknownEvent is returned by decoders that do not recognise an event type.
func UnknownEvent(rec Record) error {
	return errutil.BadRequest(fmt.Sprintf("unknown event type %q for %s", rec.EventType, rec.AggregateType), nil)
}
