package ledger

import (
	"context"
	"net/http"

	"smallbiznis-loyalty/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

type transactionResponse struct {
	LoyaltyBankID string `json:"loyalty_bank_id"`
	TransactionID string `json:"transaction_id"`
	PointsExpired *int64 `json:"points_expired,omitempty"`
}

// RegisterRoutes exposes the loyalty bank commands over HTTP.
func (s *Service) RegisterRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern string
		status          int
		handler         httpapi.HandlerFunc
	}{
		{http.MethodPost, "/v1/loyalty-banks", http.StatusCreated, s.handleCreate},
		{http.MethodDelete, "/v1/loyalty-banks/{id}", http.StatusOK, s.handleDelete},
		{http.MethodPost, "/v1/loyalty-banks/{id}/pending", http.StatusCreated, transactionHandler(s, s.AddPendingPoints)},
		{http.MethodPost, "/v1/loyalty-banks/{id}/earn", http.StatusCreated, transactionHandler(s, s.EarnPoints)},
		{http.MethodPost, "/v1/loyalty-banks/{id}/authorize", http.StatusCreated, transactionHandler(s, s.AuthorizePoints)},
		{http.MethodPost, "/v1/loyalty-banks/{id}/capture", http.StatusCreated, transactionHandler(s, s.CapturePoints)},
		{http.MethodPost, "/v1/loyalty-banks/{id}/void", http.StatusCreated, transactionHandler(s, s.VoidPoints)},
		{http.MethodPost, "/v1/loyalty-banks/{id}/expire", http.StatusCreated, s.handleExpire},
	}

	for _, r := range routes {
		if err := httpapi.Handle(mux, r.method, r.pattern, r.status, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) envelope(r *http.Request, env *Envelope, id string) {
	if id != "" {
		env.LoyaltyBankID = id
	}
	if env.RequestID == "" {
		env.RequestID = httpapi.RequestID(r, s.runner.NewID)
	}
}

func (s *Service) handleCreate(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
	var cmd CreateLoyaltyBank
	if err := httpapi.DecodeJSON(r, &cmd); err != nil {
		return nil, err
	}
	if cmd.LoyaltyBankID == "" {
		cmd.LoyaltyBankID = s.runner.NewID()
	}
	s.envelope(r, &cmd.Envelope, "")

	if err := s.CreateLoyaltyBank(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"loyalty_bank_id": cmd.LoyaltyBankID, "request_id": cmd.RequestID}, nil
}

func (s *Service) handleDelete(ctx context.Context, r *http.Request, params map[string]string) (any, error) {
	var cmd DeleteLoyaltyBank
	s.envelope(r, &cmd.Envelope, params["id"])

	if err := s.DeleteLoyaltyBank(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"loyalty_bank_id": cmd.LoyaltyBankID, "status": "deleted"}, nil
}

func (s *Service) handleExpire(ctx context.Context, r *http.Request, params map[string]string) (any, error) {
	var cmd ExpireTransaction
	if err := httpapi.DecodeJSON(r, &cmd); err != nil {
		return nil, err
	}
	s.envelope(r, &cmd.Envelope, params["id"])
	cmd.TransactionID = s.transactionID(cmd.TransactionID)

	expired, err := s.ExpireTransaction(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return transactionResponse{LoyaltyBankID: cmd.LoyaltyBankID, TransactionID: cmd.TransactionID, PointsExpired: &expired}, nil
}

// transactionCommand is satisfied by pointers to the point movement commands.
type transactionCommand[C any] interface {
	*C
	env() *Envelope
}

func (c *AddPendingPoints) env() *Envelope { return &c.Envelope }
func (c *EarnPoints) env() *Envelope       { return &c.Envelope }
func (c *AuthorizePoints) env() *Envelope  { return &c.Envelope }
func (c *CapturePoints) env() *Envelope    { return &c.Envelope }
func (c *VoidPoints) env() *Envelope       { return &c.Envelope }

func transactionHandler[C any, P transactionCommand[C]](s *Service, apply func(context.Context, C) (string, error)) httpapi.HandlerFunc {
	return func(ctx context.Context, r *http.Request, params map[string]string) (any, error) {
		var cmd C
		if err := httpapi.DecodeJSON(r, &cmd); err != nil {
			return nil, err
		}
		env := P(&cmd).env()
		s.envelope(r, env, params["id"])

		txID, err := apply(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return transactionResponse{LoyaltyBankID: env.LoyaltyBankID, TransactionID: txID}, nil
	}
}
