package ledger

import "time"

// Envelope is shared by every loyalty bank command.
type Envelope struct {
	RequestID     string `json:"request_id" validate:"required,max=64"`
	LoyaltyBankID string `json:"loyalty_bank_id" validate:"required,max=64"`
}

func (e Envelope) envelope() Envelope { return e }

// Command is the closed set of loyalty bank commands.
type Command interface {
	envelope() Envelope
}

type CreateLoyaltyBank struct {
	Envelope
	AccountID  string `json:"account_id" validate:"required,max=64"`
	BusinessID string `json:"business_id" validate:"required,max=64"`
}

type DeleteLoyaltyBank struct {
	Envelope
}

// RollbackLoyaltyBankCreation undoes a creation made by the creation saga.
// It is a no-op for a bank that was never created, is already deleted or was
// created under another request id.
type RollbackLoyaltyBankCreation struct {
	Envelope
}

type AddPendingPoints struct {
	Envelope
	TransactionID string    `json:"transaction_id" validate:"required,max=64"`
	Points        int64     `json:"points" validate:"gt=0"`
	Timestamp     time.Time `json:"timestamp"`
}

// EarnPoints converts pending points to earned. When PendingTransactionID is
// set the referenced pending transaction is consumed by the amount earned.
type EarnPoints struct {
	Envelope
	TransactionID        string    `json:"transaction_id" validate:"required,max=64"`
	PendingTransactionID string    `json:"pending_transaction_id" validate:"max=64"`
	Points               int64     `json:"points" validate:"gt=0"`
	Timestamp            time.Time `json:"timestamp"`
}

type AuthorizePoints struct {
	Envelope
	TransactionID string `json:"transaction_id" validate:"required,max=64"`
	PaymentID     string `json:"payment_id" validate:"required,max=64"`
	Points        int64  `json:"points" validate:"gt=0"`
}

type CapturePoints struct {
	Envelope
	TransactionID string `json:"transaction_id" validate:"required,max=64"`
	PaymentID     string `json:"payment_id" validate:"required,max=64"`
	Points        int64  `json:"points" validate:"gt=0"`
}

type VoidPoints struct {
	Envelope
	TransactionID string `json:"transaction_id" validate:"required,max=64"`
	PaymentID     string `json:"payment_id" validate:"required,max=64"`
	Points        int64  `json:"points" validate:"gt=0"`
}

type ExpireTransaction struct {
	Envelope
	TransactionID       string `json:"transaction_id" validate:"required,max=64"`
	TargetTransactionID string `json:"target_transaction_id" validate:"required,max=64"`
	// Points is what the caller believes the target holds; the ledger
	// decides the amount actually expired.
	Points int64 `json:"points" validate:"gte=0"`
}
