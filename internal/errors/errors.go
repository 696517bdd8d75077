// Package errors defines the service error taxonomy surfaced by the ledger API.
//
// Services return *ServiceError values carrying a closed ErrorCode; the HTTP
// layer derives status codes and display strings from them.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a failure kind.
type ErrorCode string

const (
	CodeNotAuthenticated  ErrorCode = "NOT_AUTHENTICATED"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeAlreadyProcessed  ErrorCode = "ALREADY_PROCESSED"
	CodeUpstream          ErrorCode = "UPSTREAM_FAILURE"
	CodeRateLimited       ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUnexpected        ErrorCode = "UNEXPECTED_ERROR"
)

// ServiceError is a classified failure with an HTTP mapping.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails returns a copy of the error with an additional detail entry.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// CurrentStatus returns the status recorded by AlreadyProcessed, if any.
func (e *ServiceError) CurrentStatus() string {
	if e == nil || e.Details == nil {
		return ""
	}
	s, _ := e.Details["currentStatus"].(string)
	return s
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// NotAuthenticated reports a missing or unknown session.
func NotAuthenticated(message string) *ServiceError {
	if message == "" {
		message = "Not authenticated"
	}
	return newError(CodeNotAuthenticated, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a token that failed verification.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

// Forbidden reports an authenticated caller lacking the required role.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// Validation reports bad input such as amounts outside plan bounds.
func Validation(format string, args ...any) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// InsufficientFunds reports a debit larger than the available balance.
func InsufficientFunds(message string) *ServiceError {
	if message == "" {
		message = "Insufficient balance"
	}
	return newError(CodeInsufficientFunds, http.StatusUnprocessableEntity, message, nil)
}

// NotFound reports a missing plan, loan, investment or transaction.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// AlreadyProcessed reports a status transition attempted from a non-starting state.
func AlreadyProcessed(resource, id, currentStatus string) *ServiceError {
	msg := fmt.Sprintf("%s has already been processed (status: %s)", resource, currentStatus)
	return newError(CodeAlreadyProcessed, http.StatusConflict, msg, nil).
		WithDetails("id", id).
		WithDetails("currentStatus", currentStatus)
}

// Upstream reports a failing external collaborator.
func Upstream(service string, err error) *ServiceError {
	return newError(CodeUpstream, http.StatusBadGateway, fmt.Sprintf("%s unavailable", service), err).
		WithDetails("service", service)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Unexpected wraps an unclassified failure; the message shown to callers stays generic.
func Unexpected(message string, err error) *ServiceError {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return newError(CodeUnexpected, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a *ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
