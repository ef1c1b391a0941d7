package projection

import (
	"context"
	"net/http"
	"time"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

type tokenResponse struct {
	Name      string    `json:"name"`
	Position  int64     `json:"position"`
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toResponse(t *es.Token) tokenResponse {
	return tokenResponse{Name: t.Name, Position: t.Position, Status: t.Status, LastError: t.LastError, UpdatedAt: t.UpdatedAt}
}

// RegisterRoutes exposes the operator surface for processing groups.
func (r *Registry) RegisterRoutes(mux *runtime.ServeMux) error {
	if err := httpapi.Handle(mux, http.MethodGet, "/v1/processors", http.StatusOK, func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
		tokens, err := r.Statuses(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]tokenResponse, 0, len(tokens))
		for _, t := range tokens {
			out = append(out, toResponse(t))
		}
		return map[string]any{"processors": out}, nil
	}); err != nil {
		return err
	}

	return httpapi.Handle(mux, http.MethodPost, "/v1/processors/{name}/resume", http.StatusOK, func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
		token, err := r.Resume(ctx, params["name"])
		if err != nil {
			return nil, err
		}
		return toResponse(token), nil
	})
}
