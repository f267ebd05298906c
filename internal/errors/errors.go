package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound    ErrCode = "NOT_FOUND"
	ErrCodeRateLimited ErrCode = "RATE_LIMITED"
	ErrCodeUpstream    ErrCode = "UPSTREAM_ERROR"
	ErrCodeInternal    ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest  ErrCode = "BAD_REQUEST"
	ErrCodeUnavailable ErrCode = "UNAVAILABLE"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error

	// RetryAfter is the delay suggested by the upstream for RATE_LIMITED errors
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       ErrCodeRateLimited,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewUpstreamError creates an error for an unexpected upstream response
func NewUpstreamError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeUpstream,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewUnavailableError creates an error for a service that cannot answer yet
func NewUnavailableError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnavailable,
		Message: message,
	}
}

// Code returns the code of the first AppError in the chain, or "" if there is none
func Code(err error) ErrCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return Code(err) == ErrCodeRateLimited
}

// RetryAfter returns the delay suggested by a rate limited error
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == ErrCodeRateLimited {
		return appErr.RetryAfter, true
	}
	return 0, false
}
