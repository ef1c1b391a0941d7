package query

import (
	"context"
	"fmt"

	"smallbiznis-loyalty/pkg/db/option"
	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/repository"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/activity"
	"smallbiznis-loyalty/services/business"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/redemption"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Service answers reads from the projected views. Results lag the event
// store by however far the processors are behind.
type Service struct {
	accounts     repository.Repository[account.Lookup]
	businesses   repository.Repository[business.Lookup]
	banks        repository.Repository[ledger.LoyaltyBank]
	transactions repository.Repository[ledger.TransactionLog]
	trackers     repository.Repository[redemption.Tracker]
	activity     *activity.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Activity *activity.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		accounts:     repository.ProvideStore[account.Lookup](p.DB),
		businesses:   repository.ProvideStore[business.Lookup](p.DB),
		banks:        repository.ProvideStore[ledger.LoyaltyBank](p.DB),
		transactions: repository.ProvideStore[ledger.TransactionLog](p.DB),
		trackers:     repository.ProvideStore[redemption.Tracker](p.DB),
		activity:     p.Activity,
	}
}

// EnrichedLoyaltyBank is a loyalty bank with its owner and business.
type EnrichedLoyaltyBank struct {
	*ledger.LoyaltyBank
	Account  *account.Lookup  `json:"account"`
	Business *business.Lookup `json:"business"`
}

func (s *Service) FindAccount(ctx context.Context, accountID string) (*account.Lookup, error) {
	acc, err := s.accounts.FindOne(ctx, &account.Lookup{ID: accountID})
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, account.AccountNotFound(accountID)
	}
	return acc, nil
}

func (s *Service) FindBusiness(ctx context.Context, businessID string) (*business.Lookup, error) {
	biz, err := s.businesses.FindOne(ctx, &business.Lookup{ID: businessID})
	if err != nil {
		return nil, err
	}
	if biz == nil {
		return nil, business.BusinessNotFound(businessID)
	}
	return biz, nil
}

func (s *Service) FindLoyaltyBank(ctx context.Context, loyaltyBankID string) (*ledger.LoyaltyBank, error) {
	bank, err := s.banks.FindOne(ctx, &ledger.LoyaltyBank{ID: loyaltyBankID})
	if err != nil {
		return nil, err
	}
	if bank == nil {
		return nil, errutil.NotFound(fmt.Sprintf("loyalty bank %s does not exist", loyaltyBankID), ledger.ErrLoyaltyBankNotFound)
	}
	return bank, nil
}

func (s *Service) FindLoyaltyBankByAccount(ctx context.Context, accountID string) (*ledger.LoyaltyBank, error) {
	bank, err := s.banks.FindOne(ctx, &ledger.LoyaltyBank{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if bank == nil {
		return nil, errutil.NotFound(fmt.Sprintf("account %s has no loyalty bank", accountID), ledger.ErrLoyaltyBankNotFound)
	}
	return bank, nil
}

func (s *Service) ListLoyaltyBanksByBusiness(ctx context.Context, businessID string, p pagination.Pagination) ([]*ledger.LoyaltyBank, *pagination.PageInfo, error) {
	limit := p.Size()
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
		option.WithLimit(limit + 1),
	}
	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "id", Operator: option.GT, Value: cursor.ID}))
	}

	rows, err := s.banks.Find(ctx, &ledger.LoyaltyBank{BusinessID: businessID}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return pagination.BuildCursorPage(rows, limit, func(b *ledger.LoyaltyBank) pagination.Cursor {
		return pagination.Cursor{ID: b.ID}
	})
}

// EnrichedLoyaltyBank joins the bank with its account and business. Either
// side may be nil when its lookup has been removed.
func (s *Service) EnrichedLoyaltyBank(ctx context.Context, loyaltyBankID string) (*EnrichedLoyaltyBank, error) {
	bank, err := s.FindLoyaltyBank(ctx, loyaltyBankID)
	if err != nil {
		return nil, err
	}

	out := &EnrichedLoyaltyBank{LoyaltyBank: bank}
	if out.Account, err = s.accounts.FindOne(ctx, &account.Lookup{ID: bank.AccountID}); err != nil {
		return nil, err
	}
	if out.Business, err = s.businesses.FindOne(ctx, &business.Lookup{ID: bank.BusinessID}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListActivity(ctx context.Context, entityID string, p pagination.Pagination) ([]*activity.ActivityLog, *pagination.PageInfo, error) {
	return s.activity.List(ctx, entityID, p)
}

// ListTransactions pages through the point movements of a loyalty bank in
// ledger order.
func (s *Service) ListTransactions(ctx context.Context, loyaltyBankID string, p pagination.Pagination) ([]*ledger.TransactionLog, *pagination.PageInfo, error) {
	limit := p.Size()
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "position", OrderBy: "asc", Allow: map[string]bool{"position": true}}),
		option.WithLimit(limit + 1),
	}
	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "position", Operator: option.GT, Value: cursor.Position}))
	}

	rows, err := s.transactions.Find(ctx, &ledger.TransactionLog{LoyaltyBankID: loyaltyBankID}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return pagination.BuildCursorPage(rows, limit, func(l *ledger.TransactionLog) pagination.Cursor {
		return pagination.Cursor{Position: l.Position, ID: l.ID}
	})
}

// RedemptionView is a redemption tracker with its derived balance.
type RedemptionView struct {
	*redemption.Tracker
	PointsAvailable int64 `json:"points_available_for_redemption"`
}

func (s *Service) FindRedemption(ctx context.Context, paymentID string) (*RedemptionView, error) {
	tracker, err := s.trackers.FindOne(ctx, &redemption.Tracker{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, redemption.TrackerNotFound(paymentID)
	}
	return &RedemptionView{Tracker: tracker, PointsAvailable: tracker.PointsAvailableForRedemption()}, nil
}
