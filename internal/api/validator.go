package api

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/kinga-app/kinga/internal/errors"
)

// requestValidator adapts validator/v10 to echo.Validator. Field names in
// errors are the JSON names clients send.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

// Validate implements echo.Validator.
func (rv *requestValidator) Validate(i any) error {
	return rv.validate.Struct(i)
}

// describeValidation turns validator errors into one readable line.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "email":
			parts = append(parts, fe.Field()+" must be a valid email address")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// bindRequest decodes the JSON body into dst and validates it. The returned
// string is the detail for a 400 reply.
func bindRequest(ctx echo.Context, dst any) (string, bool) {
	if err := ctx.Bind(dst); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return httpErrorText(he), false
		}
		return err.Error(), false
	}
	if err := ctx.Validate(dst); err != nil {
		return describeValidation(err), false
	}
	return "", true
}
