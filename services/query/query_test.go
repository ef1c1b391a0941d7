package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/activity"
	"smallbiznis-loyalty/services/business"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/redemption"
	"smallbiznis-loyalty/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t,
		&account.Lookup{}, &business.Lookup{}, &ledger.LoyaltyBank{}, &ledger.TransactionLog{},
		&redemption.Tracker{}, &activity.ActivityLog{},
	)

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&account.Lookup{ID: "acc-1", Email: "ana@example.com", FirstName: "Ana", LastName: "Lee"}).Error)
	require.NoError(t, db.Create(&business.Lookup{ID: "biz-1", Name: "Kopi"}).Error)
	require.NoError(t, db.Create(&ledger.LoyaltyBank{ID: "lb-1", AccountID: "acc-1", BusinessID: "biz-1", Earned: 30, Pending: 20}).Error)
	require.NoError(t, db.Create(&ledger.LoyaltyBank{ID: "lb-2", AccountID: "acc-2", BusinessID: "biz-1"}).Error)
	require.NoError(t, db.Create(&ledger.LoyaltyBank{ID: "lb-3", AccountID: "acc-3", BusinessID: "biz-1"}).Error)
	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Create(&ledger.TransactionLog{
			ID:            fmt.Sprintf("ev-%d", i),
			Position:      int64(i * 10),
			LoyaltyBankID: "lb-1",
			TransactionID: fmt.Sprintf("tx-%d", i),
			Type:          ledger.TransactionEarned,
			Points:        int64(i),
			Timestamp:     now,
		}).Error)
	}
	require.NoError(t, db.Create(&redemption.Tracker{PaymentID: "P", LoyaltyBankID: "lb-1", AuthorizedPoints: 100, CapturedPoints: 60}).Error)

	return NewService(ServiceParams{DB: db, Activity: activity.NewService(db)}), db
}

func TestFinders(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	acc, err := svc.FindAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", acc.Email)

	_, err = svc.FindAccount(ctx, "nope")
	require.ErrorIs(t, err, account.ErrAccountNotFound)

	_, err = svc.FindBusiness(ctx, "nope")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	bank, err := svc.FindLoyaltyBankByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, "lb-1", bank.ID)

	_, err = svc.FindLoyaltyBank(ctx, "lb-9")
	require.ErrorIs(t, err, ledger.ErrLoyaltyBankNotFound)

	enriched, err := svc.EnrichedLoyaltyBank(ctx, "lb-2")
	require.NoError(t, err)
	require.Nil(t, enriched.Account)
	require.Equal(t, "Kopi", enriched.Business.Name)

	r, err := svc.FindRedemption(ctx, "P")
	require.NoError(t, err)
	require.Equal(t, int64(40), r.PointsAvailable)

	_, err = svc.FindRedemption(ctx, "Q")
	require.ErrorIs(t, err, redemption.ErrTrackerNotFound)
}

func TestListsPageByCursor(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	logs, info, err := svc.ListTransactions(ctx, "lb-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"tx-1", "tx-2"}, []string{logs[0].TransactionID, logs[1].TransactionID})
	require.True(t, info.HasMore)

	var seen []string
	cursor := ""
	for {
		logs, info, err = svc.ListTransactions(ctx, "lb-1", pagination.Pagination{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, l := range logs {
			seen = append(seen, l.TransactionID)
		}
		if !info.HasMore {
			break
		}
		cursor = info.NextCursor
	}
	require.Equal(t, []string{"tx-1", "tx-2", "tx-3", "tx-4", "tx-5"}, seen)

	banks, info, err := svc.ListLoyaltyBanksByBusiness(ctx, "biz-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, banks, 2)
	require.True(t, info.HasMore)

	banks, info, err = svc.ListLoyaltyBanksByBusiness(ctx, "biz-1", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, banks, 1)
	require.Equal(t, "lb-3", banks[0].ID)
	require.False(t, info.HasMore)
}

func TestHTTPRoutes(t *testing.T) {
	svc, _ := newService(t)
	mux := runtime.NewServeMux()
	require.NoError(t, svc.RegisterRoutes(mux))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/v1/loyalty-banks/lb-1/enriched")
	require.Equal(t, http.StatusOK, rec.Code)
	var enriched map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enriched))
	require.Equal(t, "lb-1", enriched["loyalty_bank_id"])
	require.Equal(t, float64(30), enriched["earned"])
	require.Equal(t, "ana@example.com", enriched["account"].(map[string]any)["email"])

	rec = get("/v1/loyalty-banks/lb-1/transactions?limit=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data     []ledger.TransactionLog `json:"data"`
		PageInfo pagination.PageInfo     `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)
	require.True(t, body.PageInfo.HasMore)

	rec = get("/v1/activity/lb-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":[],"page_info":{"next_cursor":"","previous_cursor":"","has_more":false}}`, rec.Body.String())

	require.Equal(t, http.StatusBadRequest, get("/v1/loyalty-banks/lb-1/transactions?limit=x").Code)
	require.Equal(t, http.StatusNotFound, get("/v1/accounts/acc-9").Code)
	require.Equal(t, http.StatusOK, get("/v1/redemptions/P").Code)
	require.Equal(t, http.StatusNotFound, get("/v1/redemptions/Q").Code)
}
