package saga

import (
	"context"
	"net/http"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/httpapi"
	"smallbiznis-loyalty/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// Routes serves the creation saga over HTTP.
type Routes struct {
	coordinator *Coordinator
	node        *snowflake.Node
	codes       sequence.Generator
}

func NewRoutes(c *Coordinator, node *snowflake.Node, codes sequence.Generator) *Routes {
	return &Routes{coordinator: c, node: node, codes: codes}
}

func (r *Routes) Register(mux *runtime.ServeMux) error {
	if err := httpapi.Handle(mux, http.MethodPost, "/v1/creation-requests", http.StatusAccepted, r.start); err != nil {
		return err
	}
	return httpapi.Handle(mux, http.MethodGet, "/v1/creation-requests/{request_id}", http.StatusOK, r.find)
}

func (r *Routes) start(ctx context.Context, req *http.Request, _ map[string]string) (any, error) {
	var cmd StartCreation
	if err := httpapi.DecodeJSON(req, &cmd); err != nil {
		return nil, err
	}
	if cmd.RequestID == "" {
		cmd.RequestID = req.Header.Get(httpapi.RequestIDHeader)
	}
	if cmd.RequestID == "" {
		code, err := r.codes.NextRequestCode(ctx)
		if err != nil {
			return nil, errutil.Internal("failed to allocate request id", err)
		}
		cmd.RequestID = code
	}
	if cmd.AccountID == "" {
		cmd.AccountID = r.node.Generate().String()
	}
	if cmd.LoyaltyBankID == "" {
		cmd.LoyaltyBankID = r.node.Generate().String()
	}

	if err := r.coordinator.Start(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]string{
		"request_id":      cmd.RequestID,
		"account_id":      cmd.AccountID,
		"loyalty_bank_id": cmd.LoyaltyBankID,
		"status":          string(StatusStarted),
	}, nil
}

func (r *Routes) find(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
	return r.coordinator.Find(ctx, params["request_id"])
}
