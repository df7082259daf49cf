package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrDispatchFailure     = errors.New("dispatch failed")
	ErrExtractionFailure   = errors.New("extraction failed")
	ErrIO                  = errors.New("unreadable input")
	ErrRevoked             = errors.New("task revoked")
	ErrTimeout             = errors.New("operation timed out")
	ErrInternal            = errors.New("internal error")
)

// AppError pins an explicit status code and client message to a sentinel.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error chain to the response status. An AppError
// anywhere in the chain wins over the sentinel mapping.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrIO):
		return http.StatusBadRequest
	case errors.Is(err, ErrDispatchFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
