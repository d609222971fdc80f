package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vidshare/backend/internal/apperror"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names, which is what clients send
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateInput runs struct validation and turns the result into a
// ValidationError. Missing fields are reported together, before any other rule.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.Validation("invalid input")
	}

	var missing, other []string
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			missing = append(missing, fe.Field())
		case "oneof":
			other = append(other, fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "max":
			other = append(other, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			other = append(other, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}

	if len(missing) > 0 {
		return apperror.Validation("missing required fields: " + strings.Join(missing, ", "))
	}
	return apperror.Validation(strings.Join(other, "; "))
}

// storeContext bounds a single store call. A non-positive timeout only adds cancellation.
func storeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
