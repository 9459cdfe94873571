package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Request errors
	ErrCodeTransport ErrorCode = "TRANSPORT"
	ErrCodeTimeout   ErrorCode = "TIMEOUT"
	ErrCodeHTTP      ErrorCode = "HTTP"
	ErrCodeDecode    ErrorCode = "DECODE"

	// Auth errors
	ErrCodeAuthRequired ErrorCode = "AUTH_REQUIRED"
	ErrCodeSigning      ErrorCode = "SIGNING"

	// Stream errors
	ErrCodeStreamFraming ErrorCode = "STREAM_FRAMING"
	ErrCodeStreamFailed  ErrorCode = "STREAM_FAILED"
	ErrCodeStreamClosed  ErrorCode = "STREAM_CLOSED"

	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured gateway error
type Error struct {
	Code        ErrorCode
	Message     string
	Status      int
	StatusText  string
	Underlying  error
	Context     map[string]any
	Stack       []Frame
	Retryable   bool
	Remediation []string
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with gateway error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
	}
}

// Transport classifies a network failure (DNS, refused, TLS, reset).
func Transport(err error, message string) *Error {
	e := Wrap(err, ErrCodeTransport, message)
	if e != nil {
		e.Retryable = true
	}
	return e
}

// Timeout classifies a call that exceeded its budget.
func Timeout(err error, message string) *Error {
	e := Wrap(err, ErrCodeTimeout, message)
	if e == nil {
		e = New(ErrCodeTimeout, message)
	}
	e.Retryable = true
	return e
}

// HTTP builds an error for a non-2xx response.
func HTTP(status int, statusText, message string) *Error {
	e := New(ErrCodeHTTP, message)
	e.Status = status
	e.StatusText = statusText
	e.Retryable = status == 408 || status == 429 || status >= 500
	return e
}

// AuthRequired is raised when no credential could be resolved for an
// endpoint that mandates one.
func AuthRequired(message string) *Error {
	return New(ErrCodeAuthRequired, message).
		WithRemediation("log in to the hub or configure a token for this endpoint")
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRemediation appends actionable remediation tips for the error.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) == 0 {
		return e
	}
	e.Remediation = append([]string{}, tips...)
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Status != 0 {
		sb.WriteString(fmt.Sprintf(" (status %d)", e.Status))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, e.Context[k]))
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches another *Error by code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Status == 0 || t.Status == e.Status)
}

// IsRetryable returns whether this error is retryable
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder

	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, frame.String()))
		sb.WriteString(fmt.Sprintf("     %s:%d\n", frame.File, frame.Line))
	}

	return sb.String()
}

// String formats a stack frame
func (f Frame) String() string {
	return f.Function
}

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := make([]Frame, 0, n)

	for i := 0; i < n; i++ {
		pc := pcs[i]
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		file, line := fn.FileLine(pc)

		frames = append(frames, Frame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var gwErr *Error
	if stderrors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// IsCode checks if an error chain carries a specific error code
func IsCode(err error, code ErrorCode) bool {
	gwErr, ok := As(err)
	return ok && gwErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	gwErr, ok := As(err)
	if !ok {
		return ErrCodeInternal
	}
	return gwErr.Code
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	gwErr, ok := As(err)
	if !ok {
		return 0
	}
	return gwErr.Status
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	gwErr, ok := As(err)
	return ok && gwErr.Retryable
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool { return IsCode(err, ErrCodeTimeout) }

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool { return IsCode(err, ErrCodeTransport) }

// IsAuthRequired reports whether err is an AuthRequiredError.
func IsAuthRequired(err error) bool { return IsCode(err, ErrCodeAuthRequired) }
