package ingest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/adalundhe/recall/core/memory"
	"github.com/go-playground/validator/v10"
)

// recordValidator checks records against their struct tags plus the
// record_kind rule.
type recordValidator struct {
	validate *validator.Validate
}

func newRecordValidator() *recordValidator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("record_kind", func(fl validator.FieldLevel) bool {
		return memory.Kind(fl.Field().String()).IsValid()
	})

	return &recordValidator{validate: v}
}

// Validate returns ErrInvalidRecord joined with one error per failed field.
func (v *recordValidator) Validate(r memory.Record) error {
	err := v.validate.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	errs := []error{ErrInvalidRecord}
	for _, fe := range fieldErrs {
		errs = append(errs, fmt.Errorf("%s: %s", fe.Field(), describe(fe)))
	}
	return errors.Join(errs...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s long", fe.Param())
	case "record_kind":
		return fmt.Sprintf("%q is not one of %v", fe.Value(), memory.ValidKinds())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
