package ledger

import (
	"errors"
	"fmt"

	"smallbiznis-loyalty/pkg/errutil"
)

var (
	ErrLoyaltyBankNotFound          = errors.New("loyalty bank not found")
	ErrLoyaltyBankDeleted           = errors.New("loyalty bank deleted")
	ErrLoyaltyBankExists            = errors.New("loyalty bank already exists")
	ErrAccountExistsWithLoyaltyBank = errors.New("account already owns a loyalty bank")
	ErrIllegalLedgerState           = errors.New("illegal ledger state")
	ErrInsufficientPoints           = errors.New("insufficient points")
	ErrExcessiveCapturePoints       = errors.New("excessive capture points")
	ErrExcessiveVoidPoints          = errors.New("excessive void points")
	ErrTransactionNotFound          = errors.New("transaction not found")
	ErrTransactionExists            = errors.New("transaction already recorded")
	ErrPaymentNotFound              = errors.New("payment not found")
)

func loyaltyBankNotFound(id string) error {
	return errutil.NotFound(fmt.Sprintf("loyalty bank %s does not exist", id), ErrLoyaltyBankNotFound)
}

func loyaltyBankDeleted(id string) error {
	return errutil.Gone(fmt.Sprintf("loyalty bank %s was deleted", id), ErrLoyaltyBankDeleted)
}

func loyaltyBankExists(id string) error {
	return errutil.Conflict(fmt.Sprintf("loyalty bank %s already exists", id), ErrLoyaltyBankExists)
}

func accountExistsWithLoyaltyBank(accountID string) error {
	return errutil.Conflict(fmt.Sprintf("account %s already owns a loyalty bank", accountID), ErrAccountExistsWithLoyaltyBank)
}

func illegalLedgerState(msg string) error {
	return errutil.UnprocessableEntity(msg, ErrIllegalLedgerState)
}

func insufficientPoints(requested, earned int64) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("requested %d points but only %d are earned", requested, earned), ErrInsufficientPoints)
}

func excessiveCapture(paymentID string, requested, remaining int64) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("payment %s: capture of %d exceeds %d remaining authorized points", paymentID, requested, remaining), ErrExcessiveCapturePoints)
}

func excessiveVoid(paymentID string, requested, remaining int64) error {
	return errutil.UnprocessableEntity(fmt.Sprintf("payment %s: void of %d exceeds %d remaining authorized points", paymentID, requested, remaining), ErrExcessiveVoidPoints)
}

func transactionNotFound(id string) error {
	return errutil.NotFound(fmt.Sprintf("transaction %s not found", id), ErrTransactionNotFound)
}

func transactionExists(id string) error {
	return errutil.Conflict(fmt.Sprintf("transaction %s already recorded", id), ErrTransactionExists)
}

func paymentNotFound(id string) error {
	return errutil.NotFound(fmt.Sprintf("payment %s has no authorization", id), ErrPaymentNotFound)
}
