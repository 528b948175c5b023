package models

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError associates a validation failure with the field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Err)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

// ValidationErrors collects field-level validation failures so callers can
// report all problems at once instead of stopping at the first.
type ValidationErrors struct {
	Fields []FieldError
}

// Add records err against field.
func (v *ValidationErrors) Add(field string, err error) {
	v.Fields = append(v.Fields, FieldError{Field: field, Err: err})
}

// AddMessage records a free-form message against field.
func (v *ValidationErrors) AddMessage(field, msg string) {
	v.Add(field, errors.New(msg))
}

// Err returns nil when no failures were recorded, otherwise v itself.
func (v *ValidationErrors) Err() error {
	if len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if len(v.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		parts = append(parts, f.Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes the underlying field errors to errors.Is and errors.As.
func (v *ValidationErrors) Unwrap() []error {
	errs := make([]error, 0, len(v.Fields))
	for _, f := range v.Fields {
		errs = append(errs, f)
	}
	return errs
}
