// Package errors provides unified error handling for the execution plane
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary mapping.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation"
	KindRateLimited         Kind = "rate_limited"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTimeout             Kind = "timeout"
	KindInvalidGraph        Kind = "invalid_graph"
	KindInternal            Kind = "internal"
)

// ServiceError represents a structured error with kind, message, and HTTP status
type ServiceError struct {
	Kind       Kind                   `json:"kind"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(kind Kind, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(kind Kind, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

func Unauthenticated(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return New(KindUnauthenticated, message, http.StatusUnauthorized)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "forbidden"
	}
	return New(KindForbidden, message, http.StatusForbidden)
}

func NotFound(resource string) *ServiceError {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func Conflict(message string) *ServiceError {
	return New(KindConflict, message, http.StatusConflict)
}

func Validation(message string) *ServiceError {
	return New(KindValidation, message, http.StatusBadRequest)
}

func RateLimited(retryAfterSeconds int) *ServiceError {
	e := New(KindRateLimited, "rate limit exceeded", http.StatusTooManyRequests)
	return e.WithDetails("retry_after", retryAfterSeconds)
}

func UpstreamUnavailable(err error) *ServiceError {
	return Wrap(KindUpstreamUnavailable, "upstream service unavailable", http.StatusBadGateway, err)
}

func Timeout(err error) *ServiceError {
	return Wrap(KindTimeout, "upstream deadline exceeded", http.StatusGatewayTimeout, err)
}

func InvalidGraph(message string) *ServiceError {
	return New(KindInvalidGraph, message, http.StatusBadRequest)
}

func Internal(err error) *ServiceError {
	return Wrap(KindInternal, "internal error", http.StatusInternalServerError, err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind == kind
	}
	return false
}

// FromError converts any error into a ServiceError, defaulting to Internal.
func FromError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return Internal(err)
}

// HTTPStatus returns the boundary status for err.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return FromError(err).HTTPStatus
}
