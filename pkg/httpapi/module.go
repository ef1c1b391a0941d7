package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"smallbiznis-loyalty/pkg/errutil"
)

var Module = fx.Module("httpapi",
	fx.Invoke(registerHealthEndpoint),
)

func registerHealthEndpoint(mux *runtime.ServeMux) {
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}); err != nil {
		zap.L().Error("failed to register health endpoint", zap.Error(err))
	}
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("failed to write response", zap.Error(err))
	}
}

// WriteError renders err using its errutil status. Errors without a status
// are reported as internal and their message is not exposed.
func WriteError(w http.ResponseWriter, err error) {
	var be errutil.BaseError
	if errors.As(err, &be) {
		if be.Code == errutil.StatusInternal {
			zap.L().Error("internal error", zap.Error(err))
			WriteJSON(w, be.Code.HTTPStatus(), errutil.BaseError{Code: be.Code, Message: be.Message}.JSON())
			return
		}
		WriteJSON(w, be.Code.HTTPStatus(), be.JSON())
		return
	}

	status := errutil.StatusOf(err)
	if status == errutil.StatusInternal {
		zap.L().Error("unhandled error", zap.Error(err))
		WriteJSON(w, status.HTTPStatus(), errutil.BaseError{Code: status, Message: "internal error"}.JSON())
		return
	}
	WriteJSON(w, status.HTTPStatus(), errutil.BaseError{Code: status, Message: err.Error()}.JSON())
}

// DecodeJSON reads the request body into dst. Unknown fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}
	return nil
}

// HandlerFunc is a path handler that returns its response or an error.
type HandlerFunc func(ctx context.Context, r *http.Request, params map[string]string) (any, error)

// Handle registers h under method and pattern, writing a JSON response with
// status on success.
func Handle(mux *runtime.ServeMux, method, pattern string, status int, h HandlerFunc) error {
	return mux.HandlePath(method, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		resp, err := h(r.Context(), r, params)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, status, resp)
	})
}

const RequestIDHeader = "X-Request-ID"

// RequestID returns the X-Request-ID header, or newID() when it is absent.
func RequestID(r *http.Request, newID func() string) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return newID()
}
