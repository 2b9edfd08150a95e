// Package apperr implements the error taxonomy shared across the
// coordinator: every component that can fail classifies the failure
// into one of a small number of codes so callers (mainly the call FSM)
// can decide whether to retry, re-prompt, or transfer without string
// matching on error text.
package apperr

import (
	"fmt"
	"runtime"
	"strings"
)

type ErrorCode string

const (
	// TransientInfra: retry with jittered backoff, bounded retries.
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// NotFound: treat as user-input error within the call flow.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Unparsable speech: bounded re-prompts, then transfer.
	ErrUnparsable ErrorCode = "UNPARSABLE"

	// RaceLost: an Assignment Arbiter CAS lost the race. Never retried.
	ErrRaceLost ErrorCode = "RACE_LOST"

	// ConfigInvalid: a provider's configuration can't support the
	// requested escalation (e.g. outbound calling enabled, empty template).
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Fatal: bug-level; logged, worker loop survives. The job queue
	// re-queues a failed job every 30 seconds with no retry limit and
	// has no dead-letter set.
	ErrFatal ErrorCode = "FATAL"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	Err        error
	StatusCode int
	Context    map[string]interface{}
	Stack      string
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: 500,
		Context:    make(map[string]interface{}),
		Stack:      getStack(),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return &AppError{
		Code:       code,
		Message:    message,
		Err:        err,
		StatusCode: 500,
		Context:    make(map[string]interface{}),
		Stack:      getStack(),
	}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	e.Context[key] = value
	return e
}

func (e *AppError) WithStatusCode(code int) *AppError {
	e.StatusCode = code
	return e
}

func (e *AppError) IsRetryable() bool {
	return e.Code == ErrBackendUnavailable
}

func getStack() string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return builder.String()
}

// Is reports whether err is an *AppError carrying code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Code == code
}

// IsRetryable reports whether err is an *AppError whose code should be retried.
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.IsRetryable()
}
