package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across hitlflow.
type ErrorCode string

// General error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Workflow error codes
const (
	ErrInvalidClassification ErrorCode = "INVALID_CLASSIFICATION"
	ErrUnknownTool           ErrorCode = "UNKNOWN_TOOL"
	ErrInvalidVerdict        ErrorCode = "INVALID_VERDICT"
	ErrMemoryRevision        ErrorCode = "MEMORY_REVISION_FAILURE"
	ErrStoreUnavailable      ErrorCode = "STORE_UNAVAILABLE"
	ErrNoPendingInterrupt    ErrorCode = "NO_PENDING_INTERRUPT"
	ErrThreadExists          ErrorCode = "THREAD_EXISTS"
	ErrThreadNotFound        ErrorCode = "THREAD_NOT_FOUND"
	ErrConcurrentInvocation  ErrorCode = "CONCURRENT_INVOCATION"
	ErrToolExecution         ErrorCode = "TOOL_EXECUTION"
	ErrPortFailure           ErrorCode = "PORT_FAILURE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is(err, NewError(code, "")) 成立。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps cause with a code and message.
func WrapError(cause error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError 沿错误链查找 *Error。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// ============================================================
// 工作流错误构造
// ============================================================

// NewInvalidClassificationError 分类器返回了 ignore/notify/respond 之外的值。
func NewInvalidClassificationError(got string) *Error {
	return NewError(ErrInvalidClassification, fmt.Sprintf("classifier returned unsupported value %q", got)).
		WithHTTPStatus(http.StatusBadGateway)
}

// NewUnknownToolError 工具名不在注册表中。
func NewUnknownToolError(name string) *Error {
	return NewError(ErrUnknownTool, fmt.Sprintf("tool %q is not registered", name)).
		WithHTTPStatus(http.StatusUnprocessableEntity)
}

// NewInvalidVerdictError 审核结论不被策略允许或格式错误。
func NewInvalidVerdictError(message string) *Error {
	return NewError(ErrInvalidVerdict, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewStoreUnavailableError 状态存储不可用，调用方可以重试。
func NewStoreUnavailableError(cause error) *Error {
	return WrapError(cause, ErrStoreUnavailable, "state store unavailable").
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true)
}

// NewNoPendingInterruptError 线程没有等待中的中断却收到了 resume。
func NewNoPendingInterruptError(threadID string) *Error {
	return NewError(ErrNoPendingInterrupt, fmt.Sprintf("thread %q has no pending interrupt", threadID)).
		WithHTTPStatus(http.StatusConflict)
}

// NewThreadExistsError 对已存在的线程再次发起 start。
func NewThreadExistsError(threadID string) *Error {
	return NewError(ErrThreadExists, fmt.Sprintf("thread %q already exists", threadID)).
		WithHTTPStatus(http.StatusConflict)
}

// NewThreadNotFoundError 线程不存在。
func NewThreadNotFoundError(threadID string) *Error {
	return NewError(ErrThreadNotFound, fmt.Sprintf("thread %q not found", threadID)).
		WithHTTPStatus(http.StatusNotFound)
}

// NewConcurrentInvocationError 同一线程的另一次调用已先行提交。
func NewConcurrentInvocationError(threadID string, cause error) *Error {
	return WrapError(cause, ErrConcurrentInvocation, fmt.Sprintf("thread %q was modified by a concurrent invocation", threadID)).
		WithHTTPStatus(http.StatusConflict).
		WithRetryable(true)
}
