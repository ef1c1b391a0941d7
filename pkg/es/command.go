package es

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"smallbiznis-loyalty/pkg/errutil"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks the `validate` tags of a command struct.
func Validate(cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errutil.BadRequest("invalid command", err)
	}

	details := make([]errutil.Detail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, errutil.Detail{
			Field:   fe.Field(),
			Message: describe(fe),
		})
	}

	return errutil.ValidationFailed("command failed validation", err, errutil.WithDetails(details...))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// Interceptor inspects a command before it reaches its aggregate. It may
// read lookups but must not change state.
type Interceptor[C any] func(ctx context.Context, cmd C) error

// Intercept validates cmd and runs the interceptor chain, stopping at the first rejection.
func Intercept[C any](ctx context.Context, cmd C, chain ...Interceptor[C]) error {
	if err := Validate(cmd); err != nil {
		return err
	}

	for _, intercept := range chain {
		if err := intercept(ctx, cmd); err != nil {
			return err
		}
	}

	return nil
}
