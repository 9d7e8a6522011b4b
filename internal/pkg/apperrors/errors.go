package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrRoundNotReady  ErrorType = "ROUND_NOT_READY"
	ErrWithdrawOpen   ErrorType = "WITHDRAW_OPEN"
	ErrInsufficient   ErrorType = "INSUFFICIENT_BALANCE"
	ErrCapExceeded    ErrorType = "CAP_EXCEEDED"
	ErrProductLocked  ErrorType = "PRODUCT_LOCKED"
	ErrNotWhitelisted ErrorType = "NOT_WHITELISTED"
	ErrOverflow       ErrorType = "ARITHMETIC_OVERFLOW"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrUpstream       ErrorType = "UPSTREAM_ERROR"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func Newf(errType ErrorType, format string, args ...any) *AppError {
	return New(errType, fmt.Sprintf(format, args...), nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest, ErrInsufficient, ErrCapExceeded:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrProductLocked, ErrNotWhitelisted:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRoundNotReady, ErrWithdrawOpen:
		return http.StatusConflict
	case ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrRoundNotReady:
		return "Wait for the round readiness time and retry."
	case ErrWithdrawOpen:
		return "Complete the outstanding withdrawal before initiating a new one."
	case ErrProductLocked:
		return "Wait for the product timelock to elapse."
	case ErrAuthFailed:
		return "Check API keys."
	case ErrCapExceeded:
		return "Reduce the deposit amount or wait for cap headroom."
	default:
		return ""
	}
}
