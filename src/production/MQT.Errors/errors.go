package mqterrors

import (
	"errors"
	"fmt"
)

// Error kinds shared by the ingestion and read paths. Check with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrParse              = errors.New("parse error")
	ErrDecode             = errors.New("decode error")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
)

// IngestFailure describes why a single reading was rejected.
// Reason is the text recorded in the error log.
type IngestFailure struct {
	Kind     error
	Reason   string
	DeviceID *string
	Err      error
}

func (f *IngestFailure) Error() string {
	if f.Err != nil && f.Err.Error() != f.Reason {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

// Unwrap exposes both the kind and the underlying cause
func (f *IngestFailure) Unwrap() []error {
	errs := []error{f.Kind}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// Storage wraps a driver error as ErrStorageUnavailable
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Validation builds a validation error with a readable message
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Parse builds a parse error with a readable message
func Parse(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

// Message strips the kind prefix added by Validation and Parse
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, kind := range []error{ErrValidation, ErrParse, ErrDecode} {
		prefix := kind.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
