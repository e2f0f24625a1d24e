package entities

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("wrd: entity not found")
	ErrIDInUse        = errors.New("wrd: entity id already in use")
	ErrUnknownType    = errors.New("wrd: unknown type")
	ErrUnknownSchema  = errors.New("wrd: unknown schema")
	ErrUnimplemented  = errors.New("wrd: attribute kind not implemented")
	ErrNotResolvable  = errors.New("wrd: reference cannot be resolved")
	ErrExternalAbsent = errors.New("wrd: external object not found")
)

// ValidationCode classifies a validation failure
type ValidationCode string

const (
	CodeRequired      ValidationCode = "required"
	CodeTooLong       ValidationCode = "too_long"
	CodeInvalidValue  ValidationCode = "invalid_value"
	CodeNotUnique     ValidationCode = "not_unique"
	CodeSelfReference ValidationCode = "self_reference"
	CodeBadReference  ValidationCode = "bad_reference"
	CodeInvalidDates  ValidationCode = "invalid_dates"
	CodeNotAllowed    ValidationCode = "not_allowed"
)

// ValidationError rejects caller input. It aborts the whole update.
type ValidationError struct {
	Path    string
	Code    ValidationCode
	Message string
}

// NewValidationError creates a validation error for a field path
func NewValidationError(path string, code ValidationCode, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
}

// InternalError is a programming error, such as an unknown field or a setting
// row without an attribute. It is never recovered from.
type InternalError struct {
	Message string
}

// Internalf creates an internal error
func Internalf(format string, args ...any) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

func (e *InternalError) Error() string {
	return "wrd internal error: " + e.Message
}

// AsValidationError extracts the first validation error from err
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// IsInternalError reports whether err is or wraps an InternalError
func IsInternalError(err error) bool {
	var ierr *InternalError
	return errors.As(err, &ierr)
}
