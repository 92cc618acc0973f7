package ipccontract

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// IsolationReadySentinel is posted by the isolation frame once its key material is ready
const IsolationReadySentinel = "__TAURI_ISOLATION_READY__"

// NonceSize is the AES-GCM nonce length used by the isolation relay
const NonceSize = 12

// Bytes marshals as a JSON array of numbers, the shape structured-clone
// produces for a Uint8Array. Base64 strings are accepted on input.
type Bytes []byte

// MarshalJSON encodes the bytes as a number array
func (b Bytes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(b)*4 + 2)
	buf.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d", v)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a number array or a base64 string
func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 bytes: %w", err)
		}
		*b = decoded
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("bytes must be a number array or base64 string: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte value out of range at index %d: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// IsolationMessage is the encrypted form of an argument payload
type IsolationMessage struct {
	Nonce       Bytes  `json:"nonce"`
	Payload     Bytes  `json:"payload"`
	ContentType string `json:"contentType,omitempty"`
}

// FramePayload travels from the main frame to the isolation frame (plaintext)
type FramePayload struct {
	Cmd      string          `json:"cmd"`
	Module   string          `json:"tauri_module,omitempty"`
	Callback CallbackID      `json:"callback"`
	Error    CallbackID      `json:"error"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// FrameMessage travels from the isolation frame back to the main frame (encrypted)
type FrameMessage struct {
	Cmd      string           `json:"cmd"`
	Module   string           `json:"tauri_module,omitempty"`
	Callback CallbackID       `json:"callback"`
	Error    CallbackID       `json:"error"`
	Payload  IsolationMessage `json:"payload"`
}

// FrameRejection travels from the isolation frame back to the main frame when
// a payload was refused or could not be sealed
type FrameRejection struct {
	Cmd       string       `json:"cmd"`
	Module    string       `json:"tauri_module,omitempty"`
	Callback  CallbackID   `json:"callback"`
	Error     CallbackID   `json:"error"`
	Rejection ErrorPayload `json:"rejection"`
}
