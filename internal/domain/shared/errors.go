package shared

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound      = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput  = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState  = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// String renders the error the way it is shown to users, e.g.
// "Subscriber stripe_customer_id is required".
func (f FieldError) String() string {
	if f.Field == "" || f.Field == BaseField {
		return f.Message
	}
	return humanize(f.Field) + " " + f.Message
}

// BaseField is used for failures that belong to the record as a whole.
const BaseField = "base"

// FieldErrors is an ordered list of field-level validation failures.
type FieldErrors []FieldError

// Add appends a failure for field.
func (fe *FieldErrors) Add(field, message string) {
	*fe = append(*fe, FieldError{Field: field, Message: message})
}

// Empty reports whether no failures were recorded.
func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// On returns the messages recorded for field.
func (fe FieldErrors) On(field string) []string {
	var out []string
	for _, e := range fe {
		if e.Field == field {
			out = append(out, e.Message)
		}
	}
	return out
}

// FullMessages returns every failure rendered with its field name.
func (fe FieldErrors) FullMessages() []string {
	out := make([]string, 0, len(fe))
	for _, e := range fe {
		out = append(out, e.String())
	}
	return out
}

// ValidationError is returned when a record fails validation. It is a
// regular, expected outcome and callers are meant to inspect Fields.
type ValidationError struct {
	Fields FieldErrors
}

// NewValidationError creates a validation error with a single failure.
func NewValidationError(field, message string) *ValidationError {
	ve := &ValidationError{}
	ve.Fields.Add(field, message)
	return ve
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields.FullMessages(), ", ")
}

// Is lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ConfigurationError signals an integration mistake (missing credential,
// missing column) rather than a runtime condition. It is never recovered.
type ConfigurationError struct {
	Component string
	Reason    string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration error: %s", e.Component, e.Reason)
}

// IsConfigurationError reports whether err is, or wraps, a configuration error.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// humanize turns "price_id" into "Price".
func humanize(field string) string {
	s := strings.TrimSuffix(field, "_id")
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
