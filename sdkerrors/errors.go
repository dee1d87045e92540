// Package sdkerrors defines the error taxonomy raised across the
// awaitable/future runtime: user-facing request failures, retry-exhausted
// function failures, SDK misuse, serializer boundary failures, remote
// scheduler failures, and internal contract violations.
package sdkerrors

import "fmt"

// RequestError is raised by user code with a user-facing message. It is
// never retried by the local runner and is surfaced to the request handle
// verbatim.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// NewRequestError builds a RequestError with the given message.
func NewRequestError(message string) *RequestError {
	return &RequestError{Message: message}
}

// FunctionError wraps any non-RequestError exception raised by user code
// after the function's retry budget is exhausted. The original error text
// is kept for local debugging but is not guaranteed to survive a trip
// through the remote scheduler.
type FunctionError struct {
	FunctionName string
	Attempts     int
	Cause        error
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %q failed after %d attempt(s): %v", e.FunctionName, e.Attempts, e.Cause)
}

func (e *FunctionError) Unwrap() error { return e.Cause }

// UsageError is surfaced for SDK misuse: resubmitting a running future,
// returning an AwaitableList from a function body, calling the SDK from a
// detached thread, and similar contract violations caught outside the
// validation package.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return "sdk usage error: " + e.Message }

func NewUsageError(format string, args ...any) *UsageError {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// SerializationError is produced at a boundary conversion and always names
// the serializer responsible.
type SerializationError struct {
	Serializer string
	Cause      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serializer %q: %v", e.Serializer, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// RemoteAPIError carries the HTTP status returned by the scheduler.
type RemoteAPIError struct {
	Status  int
	Message string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote api error: status %d: %s", e.Status, e.Message)
}

// Retryable reports whether the status is one of the transient statuses the
// remote runner should retry (502/503/504); 401/403 and other 4xx are not.
func (e *RemoteAPIError) Retryable() bool {
	switch e.Status {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}

// RequestNotFinishedError is raised when a caller asks for output before the
// request has completed while using a non-blocking access mode.
type RequestNotFinishedError struct {
	RequestID string
}

func (e *RequestNotFinishedError) Error() string {
	return fmt.Sprintf("request %q has not finished yet", e.RequestID)
}

// TimeoutError is raised by Future.Result(timeout) or an explicit Wait once
// the deadline elapses.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "timed out"
	}
	return e.Message
}

// StopSignal is raised inside a worker goroutine when it calls back into a
// runtime hook after the request-exception slot has already been set by
// some other future's failure. It is never retried; the
// worker treats it as aborted and the control loop records a generic
// failure rather than unwrapping it further.
type StopSignal struct {
	Cause error
}

func (e *StopSignal) Error() string {
	return "request cancelled: " + e.Cause.Error()
}

func (e *StopSignal) Unwrap() error { return e.Cause }

// InternalError signals a contract violation inside the core itself. It is
// never suppressed silently.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return "internal error: " + e.Message }

func NewInternalError(format string, args ...any) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}
