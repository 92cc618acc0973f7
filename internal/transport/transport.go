// Package transport carries invocation envelopes across the webview/host
// boundary. Delivery is fire-and-forget: results come back out-of-band
// through a Sink, never as the return value of Send.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Transport sends an envelope towards the native side
type Transport interface {
	Send(ctx context.Context, env ipccontract.Envelope) error
}

// Sink receives results addressed to a callback identifier.
// It reports whether a live handler consumed the delivery.
type Sink interface {
	Deliver(id ipccontract.CallbackID, payload json.RawMessage) bool
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(id ipccontract.CallbackID, payload json.RawMessage) bool

// Deliver calls f
func (f SinkFunc) Deliver(id ipccontract.CallbackID, payload json.RawMessage) bool {
	return f(id, payload)
}

// HostFunc is the host function injected into the calling side. It must
// schedule the native work and return without waiting for the result.
type HostFunc func(ctx context.Context, message []byte) error

// Direct calls an injected host function with the serialized envelope
type Direct struct {
	mu   sync.RWMutex
	host HostFunc
}

// NewDirect creates a direct transport. host may be nil and installed later.
func NewDirect(host HostFunc) *Direct {
	return &Direct{host: host}
}

// Install sets or replaces the host function
func (d *Direct) Install(host HostFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.host = host
}

// Send serializes env and hands it to the host function.
// It fails fast when no host function has been installed.
func (d *Direct) Send(ctx context.Context, env ipccontract.Envelope) error {
	d.mu.RLock()
	host := d.host
	d.mu.RUnlock()

	if host == nil {
		return bridgeerr.New(bridgeerr.CodeTransportUnavailable, "ipc host function not initialized")
	}

	message, err := json.Marshal(env)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "failed to serialize envelope", err)
	}

	if err := host(ctx, message); err != nil {
		if bridgeerr.CodeOf(err) != "" {
			return err
		}
		return bridgeerr.Wrap(bridgeerr.CodeTransportUnavailable, fmt.Sprintf("ipc host rejected message: %v", err), err)
	}
	return nil
}
