// Package bridgeerr provides the structured error taxonomy surfaced to callers
// of the IPC bridge.
package bridgeerr

import (
	"encoding/json"
	"errors"

	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Code is a machine-readable error classification
type Code string

const (
	CodeTransportUnavailable Code = "transportUnavailable"
	CodeUnknownCommand       Code = "unknownCommand"
	CodeUnauthorized         Code = "unauthorized"
	CodeServerFail           Code = "serverFail"
	CodeInvalidArguments     Code = "invalidArguments"
	CodeNoResponse           Code = "noResponse"
	CodeBridgeClosed         Code = "bridgeClosed"
)

// Error is a bridge failure with structured metadata
type Error struct {
	Code    Code            // Machine-readable classification, may be empty for plugin-defined errors
	Message string          // Human-readable description
	Data    json.RawMessage // Optional plugin-supplied detail
	Cause   error           // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code != "" && e.Code == t.Code
	}
	return false
}

// New creates a bridge error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a bridge error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// HasCode reports whether any error in err's chain is a bridge error with code
func HasCode(err error, code Code) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Code == code
}

// CodeOf returns the code of the first bridge error in err's chain
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// ToPayload converts any error into the wire rejection shape.
// Errors that are not bridge errors are classified as serverFail.
func ToPayload(err error) ipccontract.ErrorPayload {
	var be *Error
	if errors.As(err, &be) {
		return ipccontract.ErrorPayload{
			Message: be.Message,
			Code:    string(be.Code),
			Data:    be.Data,
		}
	}
	return ipccontract.ErrorPayload{
		Message: err.Error(),
		Code:    string(CodeServerFail),
	}
}

// FromPayload converts a wire rejection into an error value.
func FromPayload(p ipccontract.ErrorPayload) *Error {
	return &Error{
		Code:    Code(p.Code),
		Message: p.Message,
		Data:    p.Data,
	}
}

// DecodePayload parses whatever the native side delivered to an error
// callback. Plain JSON strings become the message; objects are read as an
// ErrorPayload; anything else is kept as data.
func DecodePayload(raw json.RawMessage) *Error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &Error{Message: s}
	}
	var p ipccontract.ErrorPayload
	if err := json.Unmarshal(raw, &p); err == nil && p.Message != "" {
		return FromPayload(p)
	}
	return &Error{Message: "command failed", Data: raw}
}
