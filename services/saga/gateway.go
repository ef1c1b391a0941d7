package saga

import (
	"context"

	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/ledger"
)

// AccountGateway is the part of the account service the saga drives.
type AccountGateway interface {
	CreateAccount(ctx context.Context, cmd account.CreateAccount) error
	RollbackAccountCreation(ctx context.Context, cmd account.RollbackAccountCreation) (bool, error)
}

// LoyaltyBankGateway is the part of the ledger service the saga drives.
type LoyaltyBankGateway interface {
	CreateLoyaltyBank(ctx context.Context, cmd ledger.CreateLoyaltyBank) error
	RollbackLoyaltyBankCreation(ctx context.Context, cmd ledger.RollbackLoyaltyBankCreation) (bool, error)
}
