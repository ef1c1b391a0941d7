package ledger

import (
	"context"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/repository"
	"smallbiznis-loyalty/services/business"
)

// OneLoyaltyBankPerAccount rejects a creation when the loyalty bank view
// already holds a live bank for the account. The view is eventually
// consistent, so two concurrent creations can both pass.
func OneLoyaltyBankPerAccount(banks repository.Repository[LoyaltyBank]) es.Interceptor[CreateLoyaltyBank] {
	return func(ctx context.Context, cmd CreateLoyaltyBank) error {
		n, err := banks.Count(ctx, &LoyaltyBank{AccountID: cmd.AccountID})
		if err != nil {
			return err
		}
		if n > 0 {
			return accountExistsWithLoyaltyBank(cmd.AccountID)
		}
		return nil
	}
}

// BusinessMustExist rejects a creation for a business that is not enrolled.
func BusinessMustExist(lookups repository.Repository[business.Lookup]) es.Interceptor[CreateLoyaltyBank] {
	return business.MustExist(lookups, func(c CreateLoyaltyBank) string { return c.BusinessID })
}
