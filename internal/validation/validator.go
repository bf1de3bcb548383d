// Package validation wraps go-playground/validator and converts its errors to coded domain errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	domainerrors "github.com/reelshelf/reelshelf-server/internal/errors"
)

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v *validator.Validate
}

// New creates a validator that names fields by their env tag, then json tag, then Go name.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(fieldName)
	return &Validator{v: v}
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"env", "json"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		if name == "-" {
			continue
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// Validate validates a struct and returns a *errors.Error with CodeValidation.
// Details is a map of field name to message.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		fieldErrors[e.Field()] = friendlyMessage(e)
	}

	fields := make([]string, 0, len(fieldErrors))
	for field, msg := range fieldErrors {
		fields = append(fields, field+" "+msg)
	}
	slices.Sort(fields)

	return domainerrors.ValidationWithDetails(
		"validation failed: "+strings.Join(fields, "; "), fieldErrors)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if isNumeric(e.Kind()) {
			return "must be at least " + e.Param()
		}
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		if isNumeric(e.Kind()) {
			return "must not exceed " + e.Param()
		}
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "lt":
		return "must be less than " + e.Param()
	default:
		return "is invalid"
	}
}
