// Package errors provides the structured error taxonomy shared by the namespace,
// cache, store and filesystem layers of bucketfs.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for bucketfs operations.
type ErrorCode string

const (
	// Namespace errors
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeNotADirectory      ErrorCode = "NOT_A_DIRECTORY"
	ErrCodeNotAFile           ErrorCode = "NOT_A_FILE"
	ErrCodeIsDirectory        ErrorCode = "IS_DIRECTORY"
	ErrCodeUnknownIdentity    ErrorCode = "UNKNOWN_IDENTITY"
	ErrCodeCorruptedNamespace ErrorCode = "CORRUPTED_NAMESPACE"

	// Remote store errors
	ErrCodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrCodeRemoteTimeout     ErrorCode = "REMOTE_TIMEOUT"
	ErrCodeRemoteNotFound    ErrorCode = "REMOTE_NOT_FOUND"

	// Filesystem surface errors
	ErrCodeReadOnly         ErrorCode = "READ_ONLY"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeNoAttribute      ErrorCode = "NO_ATTRIBUTE"
	ErrCodeRangeTooSmall    ErrorCode = "RANGE_TOO_SMALL"
	ErrCodeMountFailed      ErrorCode = "MOUNT_FAILED"

	// Local resources
	ErrCodeCacheIO ErrorCode = "CACHE_IO"

	// Configuration
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Internal
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryNamespace     ErrorCategory = "namespace"
	CategoryRemote        ErrorCategory = "remote"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryResource      ErrorCategory = "resource"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinels for errors.Is matching. Is compares codes only, so any
// BucketFSError carrying the same code matches.
var (
	ErrNotFound           = &BucketFSError{Code: ErrCodeNotFound}
	ErrNotADirectory      = &BucketFSError{Code: ErrCodeNotADirectory}
	ErrNotAFile           = &BucketFSError{Code: ErrCodeNotAFile}
	ErrIsDirectory        = &BucketFSError{Code: ErrCodeIsDirectory}
	ErrUnknownIdentity    = &BucketFSError{Code: ErrCodeUnknownIdentity}
	ErrCorruptedNamespace = &BucketFSError{Code: ErrCodeCorruptedNamespace}
	ErrRemoteUnavailable  = &BucketFSError{Code: ErrCodeRemoteUnavailable}
	ErrRemoteTimeout      = &BucketFSError{Code: ErrCodeRemoteTimeout}
	ErrRemoteNotFound     = &BucketFSError{Code: ErrCodeRemoteNotFound}
	ErrReadOnly           = &BucketFSError{Code: ErrCodeReadOnly}
	ErrPermissionDenied   = &BucketFSError{Code: ErrCodePermissionDenied}
	ErrNoAttribute        = &BucketFSError{Code: ErrCodeNoAttribute}
	ErrRangeTooSmall      = &BucketFSError{Code: ErrCodeRangeTooSmall}
)

// BucketFSError represents a structured error with context and metadata.
type BucketFSError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *BucketFSError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *BucketFSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *BucketFSError) Is(target error) bool {
	if other, ok := target.(*BucketFSError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *BucketFSError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Context) > 0 {
		ctx, _ := json.Marshal(e.Context)
		parts = append(parts, fmt.Sprintf("Context=%s", ctx))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("BucketFSError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *BucketFSError {
	return &BucketFSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeNotFound, ErrCodeNotADirectory, ErrCodeNotAFile, ErrCodeIsDirectory,
		ErrCodeUnknownIdentity, ErrCodeCorruptedNamespace:
		return CategoryNamespace
	case ErrCodeRemoteUnavailable, ErrCodeRemoteTimeout, ErrCodeRemoteNotFound:
		return CategoryRemote
	case ErrCodeReadOnly, ErrCodePermissionDenied, ErrCodeNoAttribute,
		ErrCodeRangeTooSmall, ErrCodeMountFailed:
		return CategoryFilesystem
	case ErrCodeCacheIO:
		return CategoryResource
	case ErrCodeInvalidConfig:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether the store boundary may retry an error
// with this code. Nothing above the boundary retries.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeRemoteUnavailable, ErrCodeRemoteTimeout:
		return true
	default:
		return false
	}
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *BucketFSError) WithContext(key, value string) *BucketFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *BucketFSError) WithDetail(key string, value interface{}) *BucketFSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *BucketFSError) WithComponent(component string) *BucketFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *BucketFSError) WithOperation(operation string) *BucketFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *BucketFSError) WithCause(cause error) *BucketFSError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *BucketFSError) WithStack() *BucketFSError {
	e.Stack = CaptureStack(2)
	return e
}

// CodeOf returns the code of the first BucketFSError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) ErrorCode {
	var fsErr *BucketFSError
	if stderrors.As(err, &fsErr) {
		return fsErr.Code
	}
	return ErrCodeInternalError
}

// IsRetryable reports whether err carries a retryable flag.
func IsRetryable(err error) bool {
	var fsErr *BucketFSError
	if stderrors.As(err, &fsErr) {
		return fsErr.Retryable
	}
	return false
}

// IsRemote reports whether err originated at the store boundary.
func IsRemote(err error) bool {
	return GetCategory(CodeOf(err)) == CategoryRemote
}

// Helper functions for common error patterns

// NewNotFound reports a path absent from the remote listing.
func NewNotFound(path string) *BucketFSError {
	return NewError(ErrCodeNotFound, "no such entry").WithContext("path", path)
}

// NewNotADirectory reports a directory operation on a file.
func NewNotADirectory(path string) *BucketFSError {
	return NewError(ErrCodeNotADirectory, "not a directory").WithContext("path", path)
}

// NewNotAFile reports a file operation on a directory.
func NewNotAFile(path string) *BucketFSError {
	return NewError(ErrCodeNotAFile, "not a file").WithContext("path", path)
}

// NewUnknownIdentity reports an id that was never allocated.
func NewUnknownIdentity(id uint64) *BucketFSError {
	return NewError(ErrCodeUnknownIdentity, "unknown identity").
		WithContext("id", fmt.Sprintf("%d", id))
}

// NewCorruptedNamespace reports a violated identity invariant. It captures a
// stack since it always indicates a bug.
func NewCorruptedNamespace(path, reason string) *BucketFSError {
	return NewError(ErrCodeCorruptedNamespace, reason).
		WithContext("path", path).
		WithStack()
}

// NewReadOnly reports a rejected mutation.
func NewReadOnly(operation string) *BucketFSError {
	return NewError(ErrCodeReadOnly, "read-only file system").WithOperation(operation)
}

// NewRemoteUnavailable wraps a store failure.
func NewRemoteUnavailable(operation, key string, cause error) *BucketFSError {
	return NewError(ErrCodeRemoteUnavailable, "object store unavailable").
		WithComponent("store").
		WithOperation(operation).
		WithContext("key", key).
		WithCause(cause)
}

// NewRemoteTimeout wraps a store call that exceeded its deadline.
func NewRemoteTimeout(operation, key string, cause error) *BucketFSError {
	return NewError(ErrCodeRemoteTimeout, "object store timed out").
		WithComponent("store").
		WithOperation(operation).
		WithContext("key", key).
		WithCause(cause)
}

// NewRemoteNotFound reports a fetch of a key the store does not have.
func NewRemoteNotFound(operation, key string, cause error) *BucketFSError {
	return NewError(ErrCodeRemoteNotFound, "object not found").
		WithComponent("store").
		WithOperation(operation).
		WithContext("key", key).
		WithCause(cause)
}

// NewCacheIO wraps a local disk failure in the content cache.
func NewCacheIO(operation, path string, cause error) *BucketFSError {
	return NewError(ErrCodeCacheIO, "content cache i/o").
		WithComponent("cache").
		WithOperation(operation).
		WithContext("path", path).
		WithCause(cause)
}
