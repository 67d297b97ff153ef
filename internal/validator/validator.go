// Package validator provides request validation using go-playground/validator.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the go-playground validator with custom configuration.
type Validator struct {
	v *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// patternChars are interpreted by SCAN MATCH and must not reach a lock key.
const patternChars = "*?[]"

// New creates a new Validator instance with custom tag name and validations.
//
// Custom tags:
//   - lockkey: a full lock key or lock name; no whitespace or glob characters
//   - lockpart: one dot-separated segment of a lock key; lockkey rules and no dots
func New() *Validator {
	v := validator.New()

	// Use JSON tag names for field names in errors, then query or path names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "query", "params"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	_ = v.RegisterValidation("lockkey", func(fl validator.FieldLevel) bool {
		return validLockKey(fl.Field().String())
	})
	_ = v.RegisterValidation("lockpart", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return validLockKey(s) && !strings.Contains(s, ".")
	})

	return &Validator{v: v}
}

func validLockKey(s string) bool {
	if strings.ContainsAny(s, patternChars) {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Validate validates the given struct and returns ValidationErrors if invalid.
func (v *Validator) Validate(i any) error {
	err := v.v.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make(ValidationErrors, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		errs = append(errs, ValidationError{
			Field:   e.Field(),
			Tag:     e.Tag(),
			Value:   fmt.Sprintf("%v", e.Value()),
			Message: formatErrorMessage(e),
		})
	}

	return errs
}

// formatErrorMessage generates a human-readable error message.
func formatErrorMessage(e validator.FieldError) string {
	field := e.Field()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "lockkey":
		return fmt.Sprintf("%s must not contain whitespace or any of: %s", field, patternChars)
	case "lockpart":
		return fmt.Sprintf("%s must not contain dots, whitespace or any of: %s", field, patternChars)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
