// Package apierrors provides the typed error surface for the core engines.
//
// Errors are collapsed into a single ServiceError type so callers can use
// errors.As uniformly, while the Code field keeps the kinds spec.md §7
// distinguishes (MissingDataError, AlreadyExistsError, LimitExceededError,
// ComputeManagerError, UserReportableError) individually addressable.
package apierrors

import (
	"errors"
	"fmt"
)

// Code identifies the kind of error, independent of its message.
type Code string

const (
	CodeMissingData      Code = "MISSING_DATA"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeLimitExceeded    Code = "LIMIT_EXCEEDED"
	CodeComputeManager   Code = "COMPUTE_MANAGER"
	CodeUserReportable   Code = "USER_REPORTABLE"
	CodeInternal         Code = "INTERNAL"
	CodeInvalidTransform Code = "INVALID_TRANSITION"
)

// ServiceError is the single error type crossing engine boundaries.
type ServiceError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error

	// Shutdown is set on ComputeManagerError when the calling manager
	// should treat the rejection as an instruction to terminate itself.
	Shutdown bool
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/errors.As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches structured context to the error and returns it.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newErr(code Code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

func wrapErr(code Code, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// MissingData reports a get-by-id miss where missing_ok=false.
func MissingData(resource, id string) *ServiceError {
	return newErr(CodeMissingData, "resource not found").
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// AlreadyExists reports an attempt to add a uniquely keyed entity on a
// non-upsert path where one already exists.
func AlreadyExists(resource, key string) *ServiceError {
	return newErr(CodeAlreadyExists, "resource already exists").
		WithDetails("resource", resource).
		WithDetails("key", key)
}

// LimitExceeded reports a batch larger than the configured api_limits.*.
func LimitExceeded(operation string, limit, got int) *ServiceError {
	return newErr(CodeLimitExceeded, "request batch exceeds configured limit").
		WithDetails("operation", operation).
		WithDetails("limit", limit).
		WithDetails("got", got)
}

// ComputeManager reports a manager that is unknown, inactive, or no longer
// the owner of the record/task it is operating on.
func ComputeManager(message string, shutdown bool) *ServiceError {
	return &ServiceError{Code: CodeComputeManager, Message: message, Shutdown: shutdown}
}

// UserReportable wraps a validation error that is safe to surface verbatim.
func UserReportable(message string) *ServiceError {
	return newErr(CodeUserReportable, message)
}

// Internal wraps an unexpected error; callers convert these into
// FailedOperation{error_type:internal_fractal_error} at the record boundary.
func Internal(message string, err error) *ServiceError {
	return wrapErr(CodeInternal, message, err)
}

// InvalidTransition reports an illegal record status transition.
func InvalidTransition(from, to string) *ServiceError {
	return newErr(CodeInvalidTransform, "invalid status transition").
		WithDetails("from", from).
		WithDetails("to", to)
}

// As extracts a *ServiceError from an error chain.
func As(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// IsShutdown reports whether err is a ComputeManagerError instructing the
// caller to shut down.
func IsShutdown(err error) bool {
	svcErr, ok := As(err)
	return ok && svcErr.Code == CodeComputeManager && svcErr.Shutdown
}
