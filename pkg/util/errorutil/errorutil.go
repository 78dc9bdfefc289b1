package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for the engine's expected business outcomes. DomainError wraps
// them so callers can match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyTerminal   = errors.New("already terminal")
	ErrMissingReason     = errors.New("missing reason")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Error codes rendered to API clients.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAlreadyTerminal   = "ALREADY_TERMINAL"
	CodeMissingReason     = "MISSING_REASON"
	CodeInvalidState      = "INVALID_STATE"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeInternal          = "INTERNAL_ERROR"
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
		Err:        ErrNotFound,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

// NewConflict reports that the observed state changed before commit.
func NewConflict(message string, details map[string]any) error {
	return &DomainError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict, Details: details, Err: ErrConflict}
}

// NewInvalidTransition carries the allowed alternatives in details.
func NewInvalidTransition(message string, details map[string]any) error {
	return &DomainError{Code: CodeInvalidTransition, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Details: details, Err: ErrInvalidTransition}
}

func NewAlreadyTerminal(details map[string]any) error {
	return &DomainError{Code: CodeAlreadyTerminal, Message: "already in a terminal status", HTTPStatus: http.StatusUnprocessableEntity, Details: details, Err: ErrAlreadyTerminal}
}

func NewMissingReason() error {
	return &DomainError{Code: CodeMissingReason, Message: "cancellation reason required", HTTPStatus: http.StatusBadRequest, Err: ErrMissingReason}
}

func NewInvalidState(message string, details map[string]any) error {
	return &DomainError{Code: CodeInvalidState, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Details: details, Err: ErrInvalidState}
}

func NewInsufficientStock(details map[string]any) error {
	return &DomainError{Code: CodeInsufficientStock, Message: "insufficient stock", HTTPStatus: http.StatusUnprocessableEntity, Details: details, Err: ErrInsufficientStock}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, ErrNotFound) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// HasCode reports whether err resolves to a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
