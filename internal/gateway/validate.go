package gateway

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	// Report fields by 'json' tag name instead of struct field name
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Required fields and verification code shape are checked here, the rest is left to the identity service
func validateInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &InputError{Fields: map[string]string{"": err.Error()}}
	}

	fields := make(map[string]string, len(errs))
	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "This field is required"
		case "len":
			message = fmt.Sprintf("Must be exactly %s characters", fieldError.Param())
		case "numeric":
			message = "Must contain digits only"
		default:
			message = "Invalid value"
		}
		fields[fieldError.Field()] = message
	}

	return &InputError{Fields: fields}
}
