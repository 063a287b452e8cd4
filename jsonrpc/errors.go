package jsonrpc

import (
	"errors"
	"fmt"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeServerErrorMin and CodeServerErrorMax bound the range reserved for
	// implementation-defined server errors.
	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000
)

// Registration and configuration errors. They are returned by the Go API and
// never appear on the wire.
var (
	ErrInvalidName        = errors.New("jsonrpc: invalid method name")
	ErrReservedName       = errors.New("jsonrpc: reserved method name")
	ErrDuplicateMethod    = errors.New("jsonrpc: method already registered")
	ErrMiddlewareDisabled = errors.New("jsonrpc: middleware is disabled")
	ErrInvalidPhase       = errors.New("jsonrpc: phase must be before or after")
)

// ErrSafeModeMismatch is reported by a safe-mode caller when the peer does not
// advertise safe-mode support. It is an internal error on the wire.
var ErrSafeModeMismatch = &JSONRPCError{
	Code:    CodeInternalError,
	Message: "Client has safe mode enabled but server does not support it",
}

// JSONRPCError is a JSON-RPC 2.0 error object. Handlers and middleware return
// it to choose the code and message that reach the caller.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

// Is matches on code and message so sentinel values such as
// ErrSafeModeMismatch work with errors.Is.
func (e *JSONRPCError) Is(target error) bool {
	t, ok := target.(*JSONRPCError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func NewError(code int, message string) *JSONRPCError {
	return &JSONRPCError{Code: code, Message: message}
}

// WithData returns a copy of e carrying data.
func (e *JSONRPCError) WithData(data interface{}) *JSONRPCError {
	cp := *e
	cp.Data = data
	return &cp
}

func NewParseError(message string) *JSONRPCError {
	return NewError(CodeParseError, message)
}

func NewInvalidRequestError(message string) *JSONRPCError {
	return NewError(CodeInvalidRequest, message)
}

func NewMethodNotFoundError(method string) *JSONRPCError {
	return NewError(CodeMethodNotFound, "Method not found: "+method)
}

func NewInvalidParamsError(message string) *JSONRPCError {
	return NewError(CodeInvalidParams, message)
}

func NewInternalError(message string) *JSONRPCError {
	return NewError(CodeInternalError, message)
}

// NewServerError builds an implementation-defined server error. Codes outside
// -32099..-32000 are clamped to -32000.
func NewServerError(code int, message string) *JSONRPCError {
	if code < CodeServerErrorMin || code > CodeServerErrorMax {
		code = CodeServerErrorMax
	}
	return NewError(code, message)
}

// IsServerError reports whether code lies in the server error range.
func IsServerError(code int) bool {
	return code >= CodeServerErrorMin && code <= CodeServerErrorMax
}

// internalMessage is the sanitized message used for unexpected failures.
const internalMessage = "Internal error"

// mapError converts any error to a JSON-RPC error.
// JSONRPCError values (including wrapped ones) preserve their code; other
// errors become InternalError, with the message hidden when sanitize is set.
func mapError(err error, sanitize bool) *JSONRPCError {
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) && rpcErr != nil {
		return rpcErr
	}
	if sanitize {
		return NewInternalError(internalMessage)
	}
	return NewInternalError(err.Error())
}

// panicError converts a recovered panic value into an error.
func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
