package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/callback"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/client"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Handler receives events on the calling side
type Handler func(ev ipccontract.Event)

// Unlisten removes a subscription. Calling it more than once is a no-op.
type Unlisten func(ctx context.Context) error

// ListenOption configures a subscription
type ListenOption func(*ipccontract.EventTarget)

// WithTarget limits a subscription to events emitted to target
func WithTarget(target ipccontract.EventTarget) ListenOption {
	return func(t *ipccontract.EventTarget) {
		*t = target
	}
}

// WithLabel limits a subscription to events emitted to the window or
// webview named label
func WithLabel(label string) ListenOption {
	return WithTarget(LabelTarget(label))
}

// Bus is the calling-side event API
type Bus struct {
	client   *client.Client
	registry *callback.Registry
	logger   *slog.Logger
}

// NewBus creates a bus issuing calls through c with handlers kept in registry
func NewBus(c *client.Client, registry *callback.Registry, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{client: c, registry: registry, logger: logger}
}

type subscription struct {
	bus        *Bus
	event      string
	callbackID callback.ID
	eventID    uint64
	removed    atomic.Bool
	fired      atomic.Bool
}

// Listen subscribes handler to event until the returned Unlisten is called
func (b *Bus) Listen(ctx context.Context, event string, handler Handler, opts ...ListenOption) (Unlisten, error) {
	sub, err := b.listen(ctx, event, handler, false, opts)
	if err != nil {
		return nil, err
	}
	return sub.unlisten, nil
}

// Once subscribes handler to the next matching event only
func (b *Bus) Once(ctx context.Context, event string, handler Handler, opts ...ListenOption) error {
	_, err := b.listen(ctx, event, handler, true, opts)
	return err
}

func (b *Bus) listen(ctx context.Context, event string, handler Handler, once bool, opts []ListenOption) (*subscription, error) {
	if err := ValidateName(event); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, bridgeerr.New(bridgeerr.CodeInvalidArguments, "event handler is required")
	}

	target := AnyTarget()
	for _, opt := range opts {
		opt(&target)
	}

	sub := &subscription{bus: b, event: event}
	id, err := b.registry.Register(func(payload json.RawMessage) {
		var ev ipccontract.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.logger.Warn("Dropping malformed event",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			return
		}
		if once {
			if !sub.fired.CompareAndSwap(false, true) {
				return
			}
			sub.release(ev.ID)
		}
		handler(ev)
	}, false)
	if err != nil {
		return nil, err
	}
	sub.callbackID = id

	args := listenArgs{Event: event, Target: &target, Handler: id}
	if err := b.client.Call(ctx, Module, CommandListen, args, &sub.eventID); err != nil {
		b.registry.Remove(id)
		return nil, err
	}
	return sub, nil
}

// unlisten removes the callback and waits for the native side to drop the listener
func (s *subscription) unlisten(ctx context.Context) error {
	if !s.removed.CompareAndSwap(false, true) {
		return nil
	}
	s.bus.registry.Remove(s.callbackID)
	return s.bus.client.Call(ctx, Module, CommandUnlisten, unlistenArgs{Event: s.event, EventID: s.eventID}, nil)
}

// release is the once-listener cleanup. It runs on the delivery path, which
// may be a dispatch worker, so the native unlisten is sent from its own
// goroutine.
func (s *subscription) release(eventID uint64) {
	if !s.removed.CompareAndSwap(false, true) {
		return
	}
	s.bus.registry.Remove(s.callbackID)

	go func() {
		args := unlistenArgs{Event: s.event, EventID: eventID}
		if _, err := s.bus.client.Invoke(context.Background(), Module, CommandUnlisten, args).Wait(context.Background()); err != nil {
			s.bus.logger.Warn("Failed to unlisten once-listener",
				slog.String("event", s.event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Emit broadcasts payload to every listener of event. It returns once the
// native side has accepted the event, not when listeners have run.
func (b *Bus) Emit(ctx context.Context, event string, payload any) error {
	return b.emit(ctx, CommandEmit, event, nil, payload)
}

// EmitTo sends payload to the listeners of event matching target
func (b *Bus) EmitTo(ctx context.Context, target ipccontract.EventTarget, event string, payload any) error {
	return b.emit(ctx, CommandEmitTo, event, &target, payload)
}

func (b *Bus) emit(ctx context.Context, command, event string, target *ipccontract.EventTarget, payload any) error {
	if err := ValidateName(event); err != nil {
		return err
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "failed to serialize event payload", err)
		}
		raw = data
	}
	return b.client.Call(ctx, Module, command, emitArgs{Event: event, Target: target, Payload: raw}, nil)
}
