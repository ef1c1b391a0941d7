package ledger

import (
	"time"

	"smallbiznis-loyalty/pkg/es"
)

const AggregateType = "LoyaltyBank"

// Event types as persisted in domain_events.
const (
	EventLoyaltyBankCreated        = "LoyaltyBankCreated"
	EventPendingTransactionCreated = "PendingTransactionCreated"
	EventEarnedTransactionCreated  = "EarnedTransactionCreated"
	EventPointsAuthorized          = "PointsAuthorized"
	EventPointsCaptured            = "PointsCaptured"
	EventPointsVoided              = "PointsVoided"
	EventTransactionExpired        = "TransactionExpired"
	EventLoyaltyBankDeleted        = "LoyaltyBankDeleted"
)

type Bucket string

const (
	BucketPending Bucket = "PENDING"
	BucketEarned  Bucket = "EARNED"
)

// Event is the closed set of loyalty bank events.
type Event interface {
	es.Event
	ledgerEvent()
}

type LoyaltyBankCreated struct {
	LoyaltyBankID string    `json:"loyalty_bank_id"`
	RequestID     string    `json:"request_id,omitempty"`
	AccountID     string    `json:"account_id"`
	BusinessID    string    `json:"business_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type PendingTransactionCreated struct {
	LoyaltyBankID string    `json:"loyalty_bank_id"`
	TransactionID string    `json:"transaction_id"`
	Points        int64     `json:"points"`
	Timestamp     time.Time `json:"timestamp"`
}

type EarnedTransactionCreated struct {
	LoyaltyBankID        string    `json:"loyalty_bank_id"`
	TransactionID        string    `json:"transaction_id"`
	PendingTransactionID string    `json:"pending_transaction_id,omitempty"`
	Points               int64     `json:"points"`
	Timestamp            time.Time `json:"timestamp"`
}

type PointsAuthorized struct {
	LoyaltyBankID string    `json:"loyalty_bank_id"`
	TransactionID string    `json:"transaction_id"`
	PaymentID     string    `json:"payment_id"`
	Points        int64     `json:"points"`
	Timestamp     time.Time `json:"timestamp"`
}

type PointsCaptured struct {
	LoyaltyBankID string    `json:"loyalty_bank_id"`
	TransactionID string    `json:"transaction_id"`
	PaymentID     string    `json:"payment_id"`
	Points        int64     `json:"points"`
	Timestamp     time.Time `json:"timestamp"`
}

type PointsVoided struct {
	LoyaltyBankID string    `json:"loyalty_bank_id"`
	TransactionID string    `json:"transaction_id"`
	PaymentID     string    `json:"payment_id"`
	Points        int64     `json:"points"`
	Timestamp     time.Time `json:"timestamp"`
}

type TransactionExpired struct {
	LoyaltyBankID       string    `json:"loyalty_bank_id"`
	TransactionID       string    `json:"transaction_id"`
	TargetTransactionID string    `json:"target_transaction_id"`
	Bucket              Bucket    `json:"bucket"`
	PointsExpired       int64     `json:"points_expired"`
	Timestamp           time.Time `json:"timestamp"`
}

type LoyaltyBankDeleted struct {
	LoyaltyBankID string    `json:"loyalty_bank_id"`
	AccountID     string    `json:"account_id"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

func (LoyaltyBankCreated) EventName() string        { return EventLoyaltyBankCreated }
func (PendingTransactionCreated) EventName() string { return EventPendingTransactionCreated }
func (EarnedTransactionCreated) EventName() string  { return EventEarnedTransactionCreated }
func (PointsAuthorized) EventName() string          { return EventPointsAuthorized }
func (PointsCaptured) EventName() string            { return EventPointsCaptured }
func (PointsVoided) EventName() string              { return EventPointsVoided }
func (TransactionExpired) EventName() string        { return EventTransactionExpired }
func (LoyaltyBankDeleted) EventName() string        { return EventLoyaltyBankDeleted }

func (LoyaltyBankCreated) ledgerEvent()        {}
func (PendingTransactionCreated) ledgerEvent() {}
func (EarnedTransactionCreated) ledgerEvent()  {}
func (PointsAuthorized) ledgerEvent()          {}
func (PointsCaptured) ledgerEvent()            {}
func (PointsVoided) ledgerEvent()              {}
func (TransactionExpired) ledgerEvent()        {}
func (LoyaltyBankDeleted) ledgerEvent()        {}

// DecodeEvent turns a stored loyalty bank record back into its event.
func DecodeEvent(rec es.Record) (Event, error) {
	switch rec.EventType {
	case EventLoyaltyBankCreated:
		return decode[LoyaltyBankCreated](rec)
	case EventPendingTransactionCreated:
		return decode[PendingTransactionCreated](rec)
	case EventEarnedTransactionCreated:
		return decode[EarnedTransactionCreated](rec)
	case EventPointsAuthorized:
		return decode[PointsAuthorized](rec)
	case EventPointsCaptured:
		return decode[PointsCaptured](rec)
	case EventPointsVoided:
		return decode[PointsVoided](rec)
	case EventTransactionExpired:
		return decode[TransactionExpired](rec)
	case EventLoyaltyBankDeleted:
		return decode[LoyaltyBankDeleted](rec)
	default:
		return nil, es.UnknownEvent(rec)
	}
}

func decode[T Event](rec es.Record) (Event, error) {
	ev, err := es.Decode[T](rec)
	if err != nil {
		return nil, err
	}
	return ev, nil
}
