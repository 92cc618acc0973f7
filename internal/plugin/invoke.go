package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/channel"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
)

// Invoke carries the arguments and origin of one dispatched command
type Invoke struct {
	Module  string
	Command string
	Origin  Origin
	Args    json.RawMessage
	Sink    transport.Sink // used to stream channel messages back to the caller

	parseOnce sync.Once
	doc       any
	parseErr  error
}

// NewInvoke creates an invocation for a handler
func NewInvoke(module, command string, origin Origin, args json.RawMessage, sink transport.Sink) *Invoke {
	return &Invoke{
		Module:  module,
		Command: command,
		Origin:  origin,
		Args:    args,
		Sink:    sink,
	}
}

// document parses Args once. Numbers are kept as json.Number.
func (i *Invoke) document() (any, error) {
	i.parseOnce.Do(func() {
		if len(bytes.TrimSpace(i.Args)) == 0 {
			i.doc = map[string]any{}
			return
		}
		dec := json.NewDecoder(bytes.NewReader(i.Args))
		dec.UseNumber()
		if err := dec.Decode(&i.doc); err != nil {
			i.parseErr = i.invalid("args are not valid JSON: %v", err)
		}
	})
	return i.doc, i.parseErr
}

func (i *Invoke) invalid(format string, args ...any) error {
	return bridgeerr.New(bridgeerr.CodeInvalidArguments,
		fmt.Sprintf("invalid args for command %s: ", i.Command)+fmt.Sprintf(format, args...))
}

// value returns the top-level argument named key
func (i *Invoke) value(key string) (any, error) {
	doc, err := i.document()
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, i.invalid("args must be an object")
	}
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, bridgeerr.New(bridgeerr.CodeInvalidArguments,
			fmt.Sprintf("command %s missing required key %s", i.Command, key))
	}
	return v, nil
}

// Has reports whether a non-null top-level argument named key exists
func (i *Invoke) Has(key string) bool {
	_, err := i.value(key)
	return err == nil
}

// String returns a string argument
func (i *Invoke) String(key string) (string, error) {
	v, err := i.value(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", i.invalid("key %s must be a string", key)
	}
	return s, nil
}

// Int returns an integer argument
func (i *Invoke) Int(key string) (int64, error) {
	v, err := i.value(key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, i.invalid("key %s must be a number", key)
	}
	out, err := n.Int64()
	if err != nil {
		return 0, i.invalid("key %s must be an integer", key)
	}
	return out, nil
}

// Float returns a numeric argument
func (i *Invoke) Float(key string) (float64, error) {
	v, err := i.value(key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, i.invalid("key %s must be a number", key)
	}
	out, err := n.Float64()
	if err != nil {
		return 0, i.invalid("key %s must be a number", key)
	}
	return out, nil
}

// Bool returns a boolean argument
func (i *Invoke) Bool(key string) (bool, error) {
	v, err := i.value(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, i.invalid("key %s must be a boolean", key)
	}
	return b, nil
}

// Object returns an object argument
func (i *Invoke) Object(key string) (map[string]any, error) {
	v, err := i.value(key)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, i.invalid("key %s must be an object", key)
	}
	return m, nil
}

// Array returns an array argument
func (i *Invoke) Array(key string) ([]any, error) {
	v, err := i.value(key)
	if err != nil {
		return nil, err
	}
	a, ok := v.([]any)
	if !ok {
		return nil, i.invalid("key %s must be an array", key)
	}
	return a, nil
}

// Pointer evaluates a JSON Pointer (RFC 6901) against the arguments.
// A "/*" segment maps the rest of the pointer over every array element.
func (i *Invoke) Pointer(path string) (any, error) {
	doc, err := i.document()
	if err != nil {
		return nil, err
	}
	v, err := EvaluatePointer(doc, path)
	if err != nil {
		return nil, i.invalid("%v", err)
	}
	return v, nil
}

// Decode unmarshals the whole argument object into v
func (i *Invoke) Decode(v any) error {
	args := i.Args
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return i.invalid("%v", err)
	}
	return nil
}

// Channel returns a sender for the channel passed as argument key
func (i *Invoke) Channel(key string) (*channel.Sender, error) {
	v, err := i.value(key)
	if err != nil {
		return nil, err
	}
	id, err := channel.ParseRef(v)
	if err != nil {
		return nil, i.invalid("key %s: %v", key, err)
	}
	if i.Sink == nil {
		return nil, bridgeerr.New(bridgeerr.CodeTransportUnavailable, "no result sink for channel "+string(id))
	}
	return channel.NewSender(id, i.Sink), nil
}
