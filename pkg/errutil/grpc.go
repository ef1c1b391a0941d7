package errutil

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
)

// ErrorDomain is reported in the ErrorInfo detail of every converted error.
const ErrorDomain = "loyalty.smallbiznis"

var grpcCodes = map[CoreStatus]codes.Code{
	StatusUnauthorized:         codes.Unauthenticated,
	StatusForbidden:            codes.PermissionDenied,
	StatusNotFound:             codes.NotFound,
	StatusTimeout:              codes.DeadlineExceeded,
	StatusGatewayTimeout:       codes.DeadlineExceeded,
	StatusUnprocessableEntity:  codes.FailedPrecondition,
	StatusGone:                 codes.FailedPrecondition,
	StatusUnsupportedMediaType: codes.InvalidArgument,
	StatusBadRequest:           codes.InvalidArgument,
	StatusValidationFailed:     codes.InvalidArgument,
	StatusConflict:             codes.AlreadyExists,
	StatusAborted:              codes.Aborted,
	StatusTooManyRequests:      codes.ResourceExhausted,
	StatusClientClosedRequest:  codes.Canceled,
	StatusNotImplemented:       codes.Unimplemented,
	StatusBadGateway:           codes.Unavailable,
	StatusServiceUnavailable:   codes.Unavailable,
	StatusInternal:             codes.Internal,
}

// GRPCCode converts the CoreStatus to its closest gRPC status code equivalent.
func (s CoreStatus) GRPCCode() codes.Code {
	if c, ok := grpcCodes[s]; ok {
		return c
	}
	return codes.Unknown
}

// ToGRPCError normalises a domain error into a gRPC status error. BaseErrors
// carry an ErrorInfo with the CoreStatus as reason, and field details become
// BadRequest field violations.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var base BaseError
	if errors.As(err, &base) {
		return withDetails(status.New(base.Code.GRPCCode(), base.messageWithErr()), base)
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return status.Error(coder.Status().GRPCCode(), err.Error())
	}

	return status.Error(codes.Internal, err.Error())
}

func withDetails(st *status.Status, base BaseError) error {
	details := []protoadapt.MessageV1{&errdetails.ErrorInfo{Reason: string(base.Code), Domain: ErrorDomain}}
	if len(base.Details) > 0 {
		violations := make([]*errdetails.BadRequest_FieldViolation, 0, len(base.Details))
		for _, d := range base.Details {
			violations = append(violations, &errdetails.BadRequest_FieldViolation{Field: d.Field, Description: d.Message})
		}
		details = append(details, &errdetails.BadRequest{FieldViolations: violations})
	}

	detailed, err := st.WithDetails(details...)
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}
