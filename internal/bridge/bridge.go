// Package bridge assembles the calling side and the native side of the IPC
// bridge in one process and owns their lifecycle.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/callback"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/client"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/dispatcher"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/event"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/isolation"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Origins used by the in-process isolation frames
const (
	MainFrameOrigin      = "tauri://localhost"
	IsolationFrameOrigin = "isolation://localhost"
)

type options struct {
	window          string
	authority       *plugin.Authority
	workers         int
	queueDepth      int
	responseTimeout time.Duration
	metrics         dispatcher.Counter
	publisher       event.Publisher
	logger          *slog.Logger
	keys            *isolation.Keys
	hook            isolation.Hook
}

// Option configures a Bridge
type Option func(*options)

// WithWindow sets the label of the window the calling side runs in
func WithWindow(label string) Option {
	return func(o *options) { o.window = label }
}

// WithAuthority sets the capabilities that gate permissioned commands
func WithAuthority(a *plugin.Authority) Option {
	return func(o *options) { o.authority = a }
}

// WithWorkers sets the dispatch pool size and queue depth
func WithWorkers(workers, queueDepth int) Option {
	return func(o *options) {
		o.workers = workers
		o.queueDepth = queueDepth
	}
}

// WithResponseTimeout rejects commands that do not settle in time
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) { o.responseTimeout = d }
}

// WithMetrics records dispatch outcomes
func WithMetrics(c dispatcher.Counter) Option {
	return func(o *options) { o.metrics = c }
}

// WithPublisher forwards emitted events beyond the webview
func WithPublisher(p event.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithLogger sets the logger shared by every component
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithIsolation routes every call through an isolation frame that seals
// arguments with keys. hook may be nil.
func WithIsolation(keys *isolation.Keys, hook isolation.Hook) Option {
	return func(o *options) {
		o.keys = keys
		o.hook = hook
	}
}

// Bridge is a connected calling side and native side
type Bridge struct {
	Callbacks  *callback.Registry
	Client     *client.Client
	Events     *event.Bus
	Listeners  *event.Listeners
	Dispatcher *dispatcher.Dispatcher
	Pool       *dispatcher.Pool
	// Relay and Frame are set when isolation is enabled
	Relay *isolation.Relay
	Frame *isolation.Frame

	logger    *slog.Logger
	closeOnce sync.Once
}

// New builds a bridge over registry. The native event plugin is registered
// into registry, so registry must not already hold an "event" plugin.
func New(ctx context.Context, registry *plugin.Registry, opts ...Option) (*Bridge, error) {
	o := options{
		window:     "main",
		workers:    4,
		queueDepth: 64,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	listeners := event.NewListeners(o.logger)
	if err := registry.RegisterPlugin(event.Plugin(listeners, o.publisher)); err != nil {
		return nil, fmt.Errorf("failed to register event plugin: %w", err)
	}

	cfg := dispatcher.Config{
		Registry:        registry,
		Authority:       o.authority,
		ResponseTimeout: o.responseTimeout,
		Metrics:         o.metrics,
		Logger:          o.logger,
	}
	if o.keys != nil {
		cfg.Isolation = o.keys
	}
	d := dispatcher.New(cfg)
	pool := dispatcher.NewPool(d, o.workers, o.queueDepth)

	callbacks := callback.NewRegistry()
	host := transport.NewDirect(pool.Host(plugin.Origin{Window: o.window}, callbacks))

	b := &Bridge{
		Callbacks:  callbacks,
		Listeners:  listeners,
		Dispatcher: d,
		Pool:       pool,
		logger:     o.logger,
	}

	var t transport.Transport = host
	if o.keys != nil {
		if err := b.startIsolation(ctx, o, host); err != nil {
			pool.Close()
			return nil, err
		}
		t = b.Relay
	}

	b.Client = client.New(callbacks, t, client.WithLogger(o.logger))
	b.Events = event.NewBus(b.Client, callbacks, o.logger)
	return b, nil
}

// startIsolation connects a relay and an isolation frame in front of host
func (b *Bridge) startIsolation(ctx context.Context, o options, host transport.Transport) error {
	var relay *isolation.Relay
	frame := isolation.NewFrame(o.keys, MainFrameOrigin, func(ctx context.Context, data []byte) error {
		relay.Receive(ctx, IsolationFrameOrigin, data)
		return nil
	}, isolation.WithFrameLogger(o.logger))
	relay = isolation.NewRelay(IsolationFrameOrigin, func(ctx context.Context, data []byte) error {
		frame.Receive(ctx, MainFrameOrigin, data)
		return nil
	}, host, b.Callbacks, o.logger)

	hook := o.hook
	if hook == nil {
		hook = func(ctx context.Context, payload ipccontract.FramePayload) (ipccontract.FramePayload, error) {
			return payload, nil
		}
	}
	frame.SetHook(hook)
	if err := frame.Start(ctx); err != nil {
		return fmt.Errorf("failed to start isolation frame: %w", err)
	}

	b.Relay = relay
	b.Frame = frame
	return nil
}

// Close fails every pending call and stops the dispatch pool once queued
// commands finish. It is safe to call repeatedly.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		failed := b.Client.FailPending(bridgeerr.New(bridgeerr.CodeBridgeClosed, "bridge closed before the command responded"))
		if failed > 0 {
			b.logger.Info("Failed pending calls on close",
				slog.Int("pending", failed),
			)
		}
		b.Pool.Close()
		b.Callbacks.Close()
	})
}
