package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Evaluator runs a script in a window
type Evaluator interface {
	Eval(window, script string) error
}

// Default ScriptBuffer limits
const (
	DefaultMaxScripts = 1024
	DefaultMaxWindows = 64
)

// Errors returned by ScriptBuffer.Eval
var (
	ErrScriptQueueFull = errors.New("script queue is full")
	ErrTooManyWindows  = errors.New("too many windows with queued scripts")
)

// ScriptBuffer queues scripts per window until the window drains them
type ScriptBuffer struct {
	mu         sync.Mutex
	maxScripts int
	maxWindows int
	windows    map[string][]string
}

// NewScriptBuffer creates a buffer holding at most maxScripts scripts for each
// of at most maxWindows windows. Scripts that do not fit are refused.
func NewScriptBuffer(maxScripts, maxWindows int) *ScriptBuffer {
	if maxScripts < 1 {
		maxScripts = 1
	}
	if maxWindows < 1 {
		maxWindows = 1
	}
	return &ScriptBuffer{
		maxScripts: maxScripts,
		maxWindows: maxWindows,
		windows:    make(map[string][]string),
	}
}

// Eval implements Evaluator
func (b *ScriptBuffer) Eval(window, script string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue, ok := b.windows[window]
	if !ok && len(b.windows) >= b.maxWindows {
		return fmt.Errorf("%w: window %q not queued", ErrTooManyWindows, window)
	}
	if len(queue) >= b.maxScripts {
		return fmt.Errorf("%w: window %q", ErrScriptQueueFull, window)
	}
	b.windows[window] = append(queue, script)
	return nil
}

// Len returns the number of scripts queued for window
func (b *ScriptBuffer) Len(window string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows[window])
}

// Drain removes and returns every script queued for window
func (b *ScriptBuffer) Drain(window string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.windows[window]
	delete(b.windows, window)
	if queue == nil {
		return []string{}
	}
	return queue
}

// ScriptSink delivers callback payloads to a window as scripts
type ScriptSink struct {
	Window string
	Eval   Evaluator
}

// Deliver implements transport.Sink
func (s ScriptSink) Deliver(id ipccontract.CallbackID, payload json.RawMessage) bool {
	script, err := FormatCallback(id, payload)
	if err != nil {
		return false
	}
	return s.Eval.Eval(s.Window, script) == nil
}
