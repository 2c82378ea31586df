package fetch

import (
	"errors"
	"fmt"
)

// EngineError represents an error reported by the engine's public API.
//
// Sentinel values (ErrNotAcquired, ErrEngineStopped, ...) compare by Code, so
// errors.Is matches any EngineError carrying the same code regardless of
// Message or RequestID.
type EngineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RequestID identifies the affected request, if any.
	RequestID string

	// Err is the underlying cause (init failures).
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInitFailed indicates the worker could not start.
	ErrCodeInitFailed ErrorCode = "INIT_FAILED"

	// ErrCodeNotAcquired indicates Release or Submit without a matching Acquire.
	ErrCodeNotAcquired ErrorCode = "NOT_ACQUIRED"

	// ErrCodeEngineStopped indicates the worker is stopping or stopped.
	ErrCodeEngineStopped ErrorCode = "ENGINE_STOPPED"

	// ErrCodeDuplicateSubmission indicates a request already outstanding was submitted again.
	ErrCodeDuplicateSubmission ErrorCode = "DUPLICATE_SUBMISSION"

	// ErrCodeInvalidRequest indicates a nil request or a request without a Handle.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

var (
	ErrNotAcquired         = &EngineError{Code: ErrCodeNotAcquired, Message: "engine has no holders"}
	ErrEngineStopped       = &EngineError{Code: ErrCodeEngineStopped, Message: "engine is stopped"}
	ErrDuplicateSubmission = &EngineError{Code: ErrCodeDuplicateSubmission, Message: "request is already outstanding"}
	ErrInvalidRequest      = &EngineError{Code: ErrCodeInvalidRequest, Message: "request has no transfer handle"}
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request=%s)", msg, e.RequestID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an EngineError with the same code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// IsInitError returns true if the error reports a worker start failure.
// Uses errors.As to handle wrapped errors.
func IsInitError(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeInitFailed
	}
	return false
}

func newInitError(cause error) *EngineError {
	return &EngineError{
		Code:    ErrCodeInitFailed,
		Message: "fetch worker failed to start",
		Err:     cause,
	}
}

func newDuplicateError(requestID string) *EngineError {
	return &EngineError{
		Code:      ErrCodeDuplicateSubmission,
		Message:   "request is already outstanding",
		RequestID: requestID,
	}
}
