// Package errors defines the sentinel errors shared by the indexer, the
// search backends and the HTTP layer, and maps them to status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransientIndexing marks a store failure in the middle of a build
	// step. The persisted resume state is untouched and the step may be
	// retried.
	ErrTransientIndexing = errors.New("transient indexing failure")
	// ErrBackendUnavailable is returned when the configured search backend
	// cannot serve queries (daemon unreachable, index not built).
	ErrBackendUnavailable = errors.New("search backend unavailable")
	// ErrMalformedResponse is returned when the search daemon answers with
	// rows that cannot be decoded.
	ErrMalformedResponse = errors.New("malformed search daemon response")
	ErrBuildInProgress   = errors.New("index build already in progress")
	ErrUnsupported       = errors.New("operation not supported by backend")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

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

// Retryable reports whether err is worth retrying from the outside, i.e. a
// build step that failed on a transient store error or a timeout.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientIndexing) || errors.Is(err, ErrTimeout)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBuildInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrTransientIndexing), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
