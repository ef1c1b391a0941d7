package account

import (
	"context"
	"net/http"

	"smallbiznis-loyalty/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// RegisterRoutes exposes account updates and deletion over HTTP. Accounts
// are created through the creation saga.
func (s *Service) RegisterRoutes(mux *runtime.ServeMux) error {
	if err := httpapi.Handle(mux, http.MethodPut, "/v1/accounts/{id}", http.StatusOK, s.handleUpdate); err != nil {
		return err
	}
	return httpapi.Handle(mux, http.MethodDelete, "/v1/accounts/{id}", http.StatusOK, s.handleDelete)
}

func (s *Service) handleUpdate(ctx context.Context, r *http.Request, params map[string]string) (any, error) {
	var cmd UpdateAccount
	if err := httpapi.DecodeJSON(r, &cmd); err != nil {
		return nil, err
	}
	cmd.AccountID = params["id"]
	if cmd.RequestID == "" {
		cmd.RequestID = httpapi.RequestID(r, s.runner.NewID)
	}

	if err := s.UpdateAccount(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"account_id": cmd.AccountID, "request_id": cmd.RequestID}, nil
}

func (s *Service) handleDelete(ctx context.Context, r *http.Request, params map[string]string) (any, error) {
	cmd := DeleteAccount{Envelope: Envelope{
		AccountID: params["id"],
		RequestID: httpapi.RequestID(r, s.runner.NewID),
	}}

	if err := s.DeleteAccount(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"account_id": cmd.AccountID, "status": "deleted"}, nil
}
