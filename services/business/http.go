package business

import (
	"context"
	"net/http"

	"smallbiznis-loyalty/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// RegisterRoutes exposes the business commands over HTTP.
func (s *Service) RegisterRoutes(mux *runtime.ServeMux) error {
	if err := httpapi.Handle(mux, http.MethodPost, "/v1/businesses", http.StatusCreated, s.handleEnroll); err != nil {
		return err
	}
	if err := httpapi.Handle(mux, http.MethodPut, "/v1/businesses/{id}", http.StatusOK, s.handleUpdate); err != nil {
		return err
	}
	return httpapi.Handle(mux, http.MethodDelete, "/v1/businesses/{id}", http.StatusOK, s.handleDelete)
}

func (s *Service) envelope(r *http.Request, env *Envelope, id string) {
	if id != "" {
		env.BusinessID = id
	}
	if env.BusinessID == "" {
		env.BusinessID = s.runner.NewID()
	}
	if env.RequestID == "" {
		env.RequestID = httpapi.RequestID(r, s.runner.NewID)
	}
}

func (s *Service) handleEnroll(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
	var cmd EnrollBusiness
	if err := httpapi.DecodeJSON(r, &cmd); err != nil {
		return nil, err
	}
	s.envelope(r, &cmd.Envelope, "")

	if err := s.EnrollBusiness(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"business_id": cmd.BusinessID, "request_id": cmd.RequestID}, nil
}

func (s *Service) handleUpdate(ctx context.Context, r *http.Request, params map[string]string) (any, error) {
	var cmd UpdateBusiness
	if err := httpapi.DecodeJSON(r, &cmd); err != nil {
		return nil, err
	}
	s.envelope(r, &cmd.Envelope, params["id"])

	if err := s.UpdateBusiness(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"business_id": cmd.BusinessID, "request_id": cmd.RequestID}, nil
}

func (s *Service) handleDelete(ctx context.Context, r *http.Request, params map[string]string) (any, error) {
	var cmd DeleteBusiness
	s.envelope(r, &cmd.Envelope, params["id"])

	if err := s.DeleteBusiness(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"business_id": cmd.BusinessID, "status": "deleted"}, nil
}
