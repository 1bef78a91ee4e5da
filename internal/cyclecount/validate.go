package cyclecount

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

type enumValue interface {
	Valid() bool
}

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// valid: the field's type knows its own enumeration
	_ = validate.RegisterValidation("valid", func(fl validator.FieldLevel) bool {
		v, ok := fl.Field().Interface().(enumValue)
		return ok && v.Valid()
	})
}

// validateStruct runs the struct tags and reports the first failure as a ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	return ValidationError{Field: fe.Field(), Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "valid":
		return fmt.Sprintf("has invalid value %q", fmt.Sprint(fe.Value()))
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed the " + fe.Tag() + " check"
	}
}
