package common

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hengadev/errsx"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation error")

// ValidationError carries user-facing, field-keyed rejection messages.
// It is always recoverable locally and safe to show to the caller.
type ValidationError struct {
	Fields errsx.Map
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	var m errsx.Map
	m.Set(field, msg)
	return &ValidationError{Fields: m}
}

// AsValidationError returns nil when m is empty.
func AsValidationError(m errsx.Map) error {
	if m.IsEmpty() {
		return nil
	}
	return &ValidationError{Fields: m}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrValidation, e.Fields.AsError())
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Messages flattens the field errors into plain strings for JSON responses.
func (e *ValidationError) Messages() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// FieldNames returns the offending field names in stable order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
