package pvs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures. Kinds are usable as errors.Is targets.
type ErrorKind string

const (
	ErrArgument      ErrorKind = "argument_error"
	ErrIO            ErrorKind = "io_error"
	ErrFormat        ErrorKind = "format_error"
	ErrSerialization ErrorKind = "serialization_error"
)

func (k ErrorKind) Error() string { return string(k) }

// Error wraps a failure with its kind and context.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func formatErrorf(format string, args ...any) *Error {
	return newError(ErrFormat, fmt.Sprintf(format, args...), nil)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// NewArgumentError reports a missing or invalid caller argument.
func NewArgumentError(msg string) error {
	return newError(ErrArgument, msg, nil)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ve *CatalogValidationError
	if errors.As(err, &ve) {
		return ErrFormat
	}
	return ""
}

// ValidationDetail provides structured validation info.
type ValidationDetail struct {
	Component int
	Instance  string
	Field     string
	Message   string
}

// CatalogValidationError groups structural problems found by ValidateCatalog.
type CatalogValidationError struct {
	Issues  []string
	Details []ValidationDetail
}

func (v *CatalogValidationError) Error() string {
	return "pvs validation failed: " + strings.Join(v.Issues, "; ")
}

// Is lets validation failures match ErrFormat.
func (v *CatalogValidationError) Is(target error) bool {
	return target == ErrFormat
}
