package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Failure kinds shared by the trust and payment components. Components wrap
// them with %w so callers can branch with errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrValidation      = errors.New("validation failure")
	ErrDecryption      = errors.New("decryption failure")
	ErrExternalService = errors.New("external service failure")
	ErrIntegrity       = errors.New("integrity violation")
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
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError. Failure kinds never
// leak their wrapped cause into the rendered message.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return NewDomainError("NOT_FOUND", "resource not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrValidation):
		return &DomainError{Code: "ACCESS_DENIED", Message: "access denied", HTTPStatus: http.StatusUnauthorized, Err: err}
	case errors.Is(err, ErrDecryption):
		return &DomainError{Code: "VALUE_UNAVAILABLE", Message: "protected value unavailable", HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	case errors.Is(err, ErrExternalService):
		return &DomainError{Code: "UPSTREAM_FAILURE", Message: "external service failure", HTTPStatus: http.StatusBadGateway, Err: err}
	case errors.Is(err, ErrIntegrity):
		return &DomainError{Code: "INTEGRITY_VIOLATION", Message: "invalid signature", HTTPStatus: http.StatusBadRequest, Err: err}
	case errors.Is(err, ErrConfiguration):
		return &DomainError{Code: "CONFIGURATION_ERROR", Message: "service misconfigured", HTTPStatus: http.StatusInternalServerError, Err: err}
	}

	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
