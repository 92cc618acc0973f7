// Package ipccontract defines the wire types exchanged between a webview and
// the native host. These types are shared by the calling side, the native
// dispatcher and remote plugins.
package ipccontract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CallbackID identifies a pending host-side handler. It is a string on the
// wire, but numeric identifiers from older clients are accepted and kept in
// their decimal form.
type CallbackID string

// UnmarshalJSON accepts either a JSON string or a JSON number
func (c *CallbackID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CallbackID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("callback id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("callback id must be a non-negative integer: %s", n)
	}
	*c = CallbackID(n.String())
	return nil
}

// Envelope is a single command invocation crossing the boundary.
// Exactly one of Callback or Error is ever invoked for an envelope.
type Envelope struct {
	Cmd      string          `json:"cmd"`
	Module   string          `json:"tauri_module,omitempty"`
	Callback CallbackID      `json:"callback"`
	Error    CallbackID      `json:"error"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// ErrorPayload is the structured rejection value delivered to an error callback
type ErrorPayload struct {
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Result is the outcome of one dispatched call: either a value or an error, never both.
type Result struct {
	Value json.RawMessage
	Err   *ErrorPayload
}

// Ok returns a successful result
func Ok(value json.RawMessage) Result {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return Result{Value: value}
}

// Fail returns an error result
func Fail(payload ErrorPayload) Result {
	return Result{Err: &payload}
}

// IsErr reports whether the result is the error variant
func (r Result) IsErr() bool {
	return r.Err != nil
}

// PluginInvocationRequest is the payload sent from the host to a remote plugin
type PluginInvocationRequest struct {
	RequestID string          `json:"requestId"`
	Plugin    string          `json:"plugin"`
	Command   string          `json:"command"`
	Window    string          `json:"window,omitempty"`
	Args      json.RawMessage `json:"args"`
}

// PluginInvocationResponse is the response from a remote plugin to the host.
// A nil Error means success.
type PluginInvocationResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}
