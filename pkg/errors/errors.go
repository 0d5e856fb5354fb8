package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeAlreadyRegistered ErrorType = "ALREADY_REGISTERED"
	ErrorTypeProtectedField    ErrorType = "PROTECTED_FIELD"
	ErrorTypeSignatureInvalid  ErrorType = "SIGNATURE_INVALID"
	ErrorTypePayloadTooLarge   ErrorType = "PAYLOAD_TOO_LARGE"
	ErrorTypeTransientIO       ErrorType = "TRANSIENT_IO"
	ErrorTypeRemoteUnreachable ErrorType = "REMOTE_UNREACHABLE"
	ErrorTypePluginSource      ErrorType = "PLUGIN_SOURCE"
	ErrorTypeInternal          ErrorType = "INTERNAL"
)

// AppError is the custom error type for the application
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for different error types

// NewValidation creates a validation error
func NewValidation(message string) error {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewValidationf creates a validation error with formatting
func NewValidationf(format string, args ...any) error {
	return &AppError{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound creates a not found error
func NewNotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewAlreadyRegistered creates a duplicate-registration error
func NewAlreadyRegistered(message string) error {
	return &AppError{Type: ErrorTypeAlreadyRegistered, Message: message}
}

// NewProtectedField creates an error for patches that touch reserved fields
func NewProtectedField(field string) error {
	return &AppError{Type: ErrorTypeProtectedField, Message: fmt.Sprintf("field %q is protected and cannot be patched", field)}
}

// NewSignatureInvalid creates a webhook signature verification error
func NewSignatureInvalid(message string) error {
	return &AppError{Type: ErrorTypeSignatureInvalid, Message: message}
}

// NewPayloadTooLarge creates a body-size guard error
func NewPayloadTooLarge(message string) error {
	return &AppError{Type: ErrorTypePayloadTooLarge, Message: message}
}

// NewTransientIO creates a recoverable I/O error
func NewTransientIO(message string, err error) error {
	return &AppError{Type: ErrorTypeTransientIO, Message: message, Err: err}
}

// NewRemoteUnreachable creates an error for a peer that failed its reachability probe
func NewRemoteUnreachable(message string, err error) error {
	return &AppError{Type: ErrorTypeRemoteUnreachable, Message: message, Err: err}
}

// NewPluginSource creates an error for a failed plugin source run
func NewPluginSource(plugin string, err error) error {
	return &AppError{Type: ErrorTypePluginSource, Message: fmt.Sprintf("plugin %s source failed", plugin), Err: err}
}

// NewInternal creates an internal error
func NewInternal(message string, err error) error {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve the type
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the error type, or ErrorTypeInternal for foreign errors
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

func is(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// Type checking functions

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool { return is(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return is(err, ErrorTypeNotFound) }

// IsAlreadyRegistered checks if an error is a duplicate-registration error
func IsAlreadyRegistered(err error) bool { return is(err, ErrorTypeAlreadyRegistered) }

// IsProtectedField checks if an error is a protected-field error
func IsProtectedField(err error) bool { return is(err, ErrorTypeProtectedField) }

// IsSignatureInvalid checks if an error is a signature verification error
func IsSignatureInvalid(err error) bool { return is(err, ErrorTypeSignatureInvalid) }

// IsPayloadTooLarge checks if an error is a body-size guard error
func IsPayloadTooLarge(err error) bool { return is(err, ErrorTypePayloadTooLarge) }

// IsTransientIO checks if an error is recoverable I/O
func IsTransientIO(err error) bool { return is(err, ErrorTypeTransientIO) }

// IsRemoteUnreachable checks if an error is a failed reachability probe
func IsRemoteUnreachable(err error) bool { return is(err, ErrorTypeRemoteUnreachable) }

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool { return is(err, ErrorTypeInternal) }
