package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes understood by API clients.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeCapacityExceeded   = "CAPACITY_EXCEEDED"
	CodeStaleDependency    = "STALE_DEPENDENCY"
	CodeInvariantViolation = "INVARIANT_VIOLATION"
	CodeInternal           = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewCapacityExceeded reports that no agent slot could be claimed. Callers treat it as
// the "stays queued" outcome rather than a failure.
func NewCapacityExceeded(message string, details map[string]any) error {
	return NewDomainError(CodeCapacityExceeded, message, http.StatusConflict, details)
}

// NewStaleDependency wraps a transient collaborator failure; callers retry with backoff.
func NewStaleDependency(dependency string, err error) error {
	return &DomainError{
		Code:       CodeStaleDependency,
		Message:    fmt.Sprintf("%s unavailable", dependency),
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"dependency": dependency},
		Err:        err,
	}
}

// NewInvariantViolation signals a bug elsewhere: state that correct operation never produces.
func NewInvariantViolation(message string, details map[string]any) error {
	return &DomainError{
		Code:       CodeInvariantViolation,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Details:    details,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err carries a DomainError with the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

func IsConflict(err error) bool         { return IsCode(err, CodeConflict) }
func IsCapacityExceeded(err error) bool { return IsCode(err, CodeCapacityExceeded) }
func IsNotFound(err error) bool         { return IsCode(err, CodeNotFound) }

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &DomainError{
			Code:       CodeNotFound,
			Message:    "resource not found",
			HTTPStatus: http.StatusNotFound,
			Details:    map[string]any{},
			Err:        err,
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
