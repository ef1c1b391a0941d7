package query

import (
	"context"
	"net/http"
	"strconv"

	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

type page[T any] struct {
	Data     []*T                 `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// RegisterRoutes exposes the read side over HTTP.
func (s *Service) RegisterRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		pattern string
		handler httpapi.HandlerFunc
	}{
		{"/v1/accounts/{id}", func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
			return s.FindAccount(ctx, params["id"])
		}},
		{"/v1/accounts/{id}/loyalty-bank", func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
			return s.FindLoyaltyBankByAccount(ctx, params["id"])
		}},
		{"/v1/businesses/{id}", func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
			return s.FindBusiness(ctx, params["id"])
		}},
		{"/v1/businesses/{id}/loyalty-banks", paged(s.ListLoyaltyBanksByBusiness, "id")},
		{"/v1/loyalty-banks/{id}", func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
			return s.FindLoyaltyBank(ctx, params["id"])
		}},
		{"/v1/loyalty-banks/{id}/enriched", func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
			return s.EnrichedLoyaltyBank(ctx, params["id"])
		}},
		{"/v1/loyalty-banks/{id}/transactions", paged(s.ListTransactions, "id")},
		{"/v1/activity/{entity_id}", paged(s.ListActivity, "entity_id")},
		{"/v1/redemptions/{payment_id}", func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
			return s.FindRedemption(ctx, params["payment_id"])
		}},
	}

	for _, r := range routes {
		if err := httpapi.Handle(mux, http.MethodGet, r.pattern, http.StatusOK, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func paged[T any](list func(context.Context, string, pagination.Pagination) ([]*T, *pagination.PageInfo, error), param string) httpapi.HandlerFunc {
	return func(ctx context.Context, r *http.Request, params map[string]string) (any, error) {
		p, err := parsePagination(r)
		if err != nil {
			return nil, err
		}
		data, info, err := list(ctx, params[param], p)
		if err != nil {
			return nil, err
		}
		if data == nil {
			data = []*T{}
		}
		return page[T]{Data: data, PageInfo: info}, nil
	}
}

func parsePagination(r *http.Request) (pagination.Pagination, error) {
	q := r.URL.Query()
	p := pagination.Pagination{Cursor: q.Get("cursor")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return p, errutil.BadRequest("limit must be a non-negative integer", err)
		}
		p.Limit = limit
	}
	return p, nil
}
