package errutil

import (
	"context"
	"errors"
	"net/http"
)

type CoreStatus string

const (
	StatusUnknown              CoreStatus = "UNKNOWN"
	StatusBadRequest           CoreStatus = "BAD_REQUEST"
	StatusValidationFailed     CoreStatus = "VALIDATION_FAILED"
	StatusUnauthorized         CoreStatus = "UNAUTHORIZED"
	StatusForbidden            CoreStatus = "FORBIDDEN"
	StatusNotFound             CoreStatus = "NOT_FOUND"
	StatusGone                 CoreStatus = "GONE"
	StatusConflict             CoreStatus = "CONFLICT"
	StatusAborted              CoreStatus = "ABORTED"
	StatusUnprocessableEntity  CoreStatus = "UNPROCESSABLE_ENTITY"
	StatusUnsupportedMediaType CoreStatus = "UNSUPPORTED_MEDIA_TYPE"
	StatusTooManyRequests      CoreStatus = "TOO_MANY_REQUESTS"
	StatusClientClosedRequest  CoreStatus = "CLIENT_CLOSED_REQUEST"
	StatusTimeout              CoreStatus = "TIMEOUT"
	StatusInternal             CoreStatus = "INTERNAL"
	StatusNotImplemented       CoreStatus = "NOT_IMPLEMENTED"
	StatusBadGateway           CoreStatus = "BAD_GATEWAY"
	StatusServiceUnavailable   CoreStatus = "SERVICE_UNAVAILABLE"
	StatusGatewayTimeout       CoreStatus = "GATEWAY_TIMEOUT"
)

// HTTPStatus maps the CoreStatus to the HTTP status code used by the JSON API.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusGone:
		return http.StatusGone
	case StatusConflict, StatusAborted:
		return http.StatusConflict
	case StatusUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case StatusUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusClientClosedRequest:
		return 499
	case StatusTimeout:
		return http.StatusRequestTimeout
	case StatusNotImplemented:
		return http.StatusNotImplemented
	case StatusBadGateway:
		return http.StatusBadGateway
	case StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	case StatusGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether the status describes a rejected request rather
// than an infrastructure failure. Client errors are never retried.
func (s CoreStatus) IsClientError() bool {
	switch s {
	case StatusBadRequest, StatusValidationFailed, StatusNotFound, StatusGone,
		StatusConflict, StatusUnprocessableEntity, StatusUnsupportedMediaType,
		StatusUnauthorized, StatusForbidden:
		return true
	default:
		return false
	}
}

// StatusOf extracts the CoreStatus carried by err. Errors that do not carry a
// status are reported as StatusInternal.
func StatusOf(err error) CoreStatus {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return StatusClientClosedRequest
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return coder.Status()
	}

	return StatusInternal
}

func IsClientError(err error) bool {
	return err != nil && StatusOf(err).IsClientError()
}
