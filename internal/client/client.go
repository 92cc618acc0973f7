// Package client issues command invocations from the calling side and
// correlates the asynchronous results with the caller waiting for them.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/callback"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Client sends invocation envelopes and settles a Future for each one
type Client struct {
	registry  *callback.Registry
	transport transport.Transport
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[*Future]struct{}
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client that registers callbacks in registry and sends
// envelopes over t.
func New(registry *callback.Registry, t transport.Transport, opts ...Option) *Client {
	c := &Client{
		registry:  registry,
		transport: t,
		logger:    slog.Default(),
		pending:   make(map[*Future]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke sends command to module with args and returns a Future that settles
// exactly once. args may be nil; otherwise it must serialize to JSON.
// Validation and transport failures reject the Future before Invoke returns.
func (c *Client) Invoke(ctx context.Context, module, command string, args any) *Future {
	f := newFuture()

	if module == "" {
		f.reject(bridgeerr.New(bridgeerr.CodeInvalidArguments, "module is required"))
		return f
	}
	if command == "" {
		f.reject(bridgeerr.New(bridgeerr.CodeInvalidArguments, "command is required"))
		return f
	}

	rawArgs, err := encodeArgs(args)
	if err != nil {
		f.reject(asBridgeError(err))
		return f
	}

	var successID, errorID callback.ID

	successID, err = c.registry.Register(func(payload json.RawMessage) {
		c.registry.Remove(errorID)
		c.untrack(f)
		f.resolve(payload)
	}, true)
	if err != nil {
		f.reject(asBridgeError(err))
		return f
	}

	errorID, err = c.registry.Register(func(payload json.RawMessage) {
		c.registry.Remove(successID)
		c.untrack(f)
		f.reject(bridgeerr.DecodePayload(payload))
	}, true)
	if err != nil {
		c.registry.Remove(successID)
		f.reject(asBridgeError(err))
		return f
	}

	f.callbacks = [2]callback.ID{successID, errorID}
	c.track(f)

	env := ipccontract.Envelope{
		Cmd:      command,
		Module:   module,
		Callback: successID,
		Error:    errorID,
		Args:     rawArgs,
	}

	if err := c.transport.Send(ctx, env); err != nil {
		c.registry.Remove(successID)
		c.registry.Remove(errorID)
		c.untrack(f)
		c.logger.WarnContext(ctx, "Invocation send failed",
			slog.String("module", module),
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
		f.reject(asBridgeError(err))
		return f
	}

	return f
}

// InvokeCommand parses a combined command string such as "plugin:fs|read"
// or a bare "login" (core App module) and invokes it.
func (c *Client) InvokeCommand(ctx context.Context, cmd string, args any) *Future {
	module, command, err := ipccontract.ParseCommand(cmd)
	if err != nil {
		f := newFuture()
		f.reject(bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, err.Error(), err))
		return f
	}
	return c.Invoke(ctx, module, command, args)
}

// Call invokes command, waits for the result and decodes it into out.
// out may be nil when the result is not needed.
func (c *Client) Call(ctx context.Context, module, command string, args, out any) error {
	return c.Invoke(ctx, module, command, args).Decode(ctx, out)
}

// FailPending rejects every unsettled Future with err and drops their
// callbacks. Used when the native side has gone away.
func (c *Client) FailPending(err error) int {
	c.mu.Lock()
	futures := make([]*Future, 0, len(c.pending))
	for f := range c.pending {
		futures = append(futures, f)
	}
	clear(c.pending)
	c.mu.Unlock()

	rejection := asBridgeError(err)
	for _, f := range futures {
		for _, id := range f.callbacks {
			c.registry.Remove(id)
		}
		f.reject(rejection)
	}
	return len(futures)
}

// Pending returns the number of unsettled invocations
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) track(f *Future) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[f] = struct{}{}
}

func (c *Client) untrack(f *Future) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, f)
}

func encodeArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, bridgeerr.New(bridgeerr.CodeInvalidArguments, "args are not valid JSON")
		}
		return v, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "args are not serializable: "+err.Error(), err)
	}
	return raw, nil
}

func asBridgeError(err error) *bridgeerr.Error {
	if be, ok := err.(*bridgeerr.Error); ok {
		return be
	}
	code := bridgeerr.CodeOf(err)
	if code == "" {
		code = bridgeerr.CodeTransportUnavailable
	}
	return bridgeerr.Wrap(code, err.Error(), err)
}
