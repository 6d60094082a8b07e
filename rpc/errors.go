package rpc

import (
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes, plus the generic server error used for
// node-specific failures.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Error is the error object carried by a failed response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func NewError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

func ParseError() *Error {
	return NewError(CodeParseError, "Parse error")
}

func InvalidRequest() *Error {
	return NewError(CodeInvalidRequest, "Invalid request")
}

func MethodNotFound() *Error {
	return NewError(CodeMethodNotFound, "Method not found")
}

func InvalidParams(msg string) *Error {
	if msg == "" {
		msg = "Invalid params"
	}
	return NewError(CodeInvalidParams, msg)
}

func InternalError(msg string) *Error {
	if msg == "" {
		msg = "Internal error"
	}
	return NewError(CodeInternalError, msg)
}

// AsError converts a handler error to its wire form. Errors that are not
// (and do not wrap) an *Error become internal errors carrying their text.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return InternalError(err.Error())
}
