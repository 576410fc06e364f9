package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/namaskah/namaskah-sms/backend/services/orchestrator"
	"github.com/namaskah/namaskah-sms/backend/services/providers"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeUnavailable  ErrorType = "unavailable"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	ErrProviderNotFound   = NewDomainError(ErrorTypeNotFound, "provider not found", nil)
	ErrActivationNotFound = NewDomainError(ErrorTypeNotFound, "activation not found", nil)

	ErrInvalidInput    = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidStrategy = NewDomainError(ErrorTypeValidation, "invalid routing strategy", nil)
	ErrUnsupported     = NewDomainError(ErrorTypeValidation, "country or service not supported", nil)

	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrForbidden    = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)

	ErrProviderError   = NewDomainError(ErrorTypeExternal, "SMS provider request failed", nil)
	ErrProvidersFailed = NewDomainError(ErrorTypeExternal, "SMS service temporarily unavailable, please retry", nil)

	ErrNoProvider        = NewDomainError(ErrorTypeUnavailable, "no SMS provider is currently available", nil)
	ErrRequestIncomplete = NewDomainError(ErrorTypeUnavailable, "request ended before a provider answered", nil)
)

// provider error codes that describe the request rather than the vendor
var (
	notFoundCodes = map[string]bool{
		"NO_ACTIVATION":       true,
		"WRONG_ACTIVATION_ID": true,
		"NOT_FOUND":           true,
	}
	unsupportedCodes = map[string]bool{
		"BAD_SERVICE":         true,
		"UNSUPPORTED_COUNTRY": true,
	}
)

// FromProviderError translates orchestrator and vendor errors into domain
// errors. Messages never name the vendor or repeat its response; the
// original error stays reachable through Unwrap for logging.
func FromProviderError(err error) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	switch {
	case errors.Is(err, orchestrator.ErrNoProviderAvailable):
		return NewDomainError(ErrorTypeUnavailable, ErrNoProvider.Message, err)
	case errors.Is(err, orchestrator.ErrAllProvidersFailed):
		return NewDomainError(ErrorTypeExternal, ErrProvidersFailed.Message, err)
	case errors.Is(err, orchestrator.ErrUnknownStrategy):
		return NewDomainError(ErrorTypeValidation, ErrInvalidStrategy.Message, err)
	case errors.Is(err, providers.ErrProviderNotFound):
		return NewDomainError(ErrorTypeNotFound, ErrProviderNotFound.Message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewDomainError(ErrorTypeUnavailable, ErrRequestIncomplete.Message, err)
	}

	var provErr *providers.ProviderError
	if errors.As(err, &provErr) {
		switch {
		case notFoundCodes[provErr.Code]:
			return NewDomainError(ErrorTypeNotFound, ErrActivationNotFound.Message, err)
		case unsupportedCodes[provErr.Code]:
			return NewDomainError(ErrorTypeValidation, ErrUnsupported.Message, err)
		}
		return NewDomainError(ErrorTypeExternal, ErrProviderError.Message, err)
	}

	return NewDomainError(ErrorTypeInternal, ErrInternal.Message, err)
}

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return isType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return isType(err, ErrorTypeForbidden) }

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool { return isType(err, ErrorTypeRateLimit) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return isType(err, ErrorTypeInternal) }

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool { return isType(err, ErrorTypeExternal) }

// IsUnavailableError checks if no provider could serve the request
func IsUnavailableError(err error) bool { return isType(err, ErrorTypeUnavailable) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorMessage returns the client-safe message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
