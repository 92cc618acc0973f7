package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Permissions required by the native event plugin
const (
	PermissionListen   = "core:event:allow-listen"
	PermissionUnlisten = "core:event:allow-unlisten"
	PermissionEmit     = "core:event:allow-emit"
	PermissionEmitTo   = "core:event:allow-emit-to"
)

// Publisher forwards emitted events beyond the webview
type Publisher interface {
	Publish(ctx context.Context, payload ipccontract.EventPayload) error
}

type listenArgs struct {
	Event   string                   `json:"event"`
	Target  *ipccontract.EventTarget `json:"target,omitempty"`
	Handler ipccontract.CallbackID   `json:"handler"`
}

type unlistenArgs struct {
	Event   string `json:"event"`
	EventID uint64 `json:"eventId"`
}

type emitArgs struct {
	Event   string                   `json:"event"`
	Target  *ipccontract.EventTarget `json:"target,omitempty"`
	Payload json.RawMessage          `json:"payload,omitempty"`
}

// Plugin builds the native event plugin over listeners. publisher may be nil.
func Plugin(listeners *Listeners, publisher Publisher) *plugin.Builder {
	return newEventPlugin(listeners, publisher, timestamp).builder()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newEventPlugin(listeners *Listeners, publisher Publisher, now func() string) *eventPlugin {
	return &eventPlugin{listeners: listeners, publisher: publisher, now: now}
}

func (p *eventPlugin) builder() *plugin.Builder {
	return plugin.NewBuilder("event").
		HandleFunc(CommandListen, p.listen, plugin.RequirePermission(PermissionListen)).
		HandleFunc(CommandUnlisten, p.unlisten, plugin.RequirePermission(PermissionUnlisten)).
		HandleFunc(CommandEmit, p.emit, plugin.RequirePermission(PermissionEmit)).
		HandleFunc(CommandEmitTo, p.emitTo, plugin.RequirePermission(PermissionEmitTo))
}

type eventPlugin struct {
	listeners *Listeners
	publisher Publisher
	now       func() string
}

func (p *eventPlugin) listen(ctx context.Context, inv *plugin.Invoke) (any, error) {
	var args listenArgs
	if err := inv.Decode(&args); err != nil {
		return nil, err
	}
	target := AnyTarget()
	if args.Target != nil {
		target = *args.Target
	}
	return p.listeners.Listen(args.Event, target, args.Handler, inv.Sink)
}

func (p *eventPlugin) unlisten(ctx context.Context, inv *plugin.Invoke) (any, error) {
	var args unlistenArgs
	if err := inv.Decode(&args); err != nil {
		return nil, err
	}
	if err := ValidateName(args.Event); err != nil {
		return nil, err
	}
	p.listeners.Unlisten(args.Event, args.EventID)
	return nil, nil
}

func (p *eventPlugin) emit(ctx context.Context, inv *plugin.Invoke) (any, error) {
	var args emitArgs
	if err := inv.Decode(&args); err != nil {
		return nil, err
	}
	return nil, p.deliver(ctx, args.Event, nil, args.Payload)
}

func (p *eventPlugin) emitTo(ctx context.Context, inv *plugin.Invoke) (any, error) {
	var args emitArgs
	if err := inv.Decode(&args); err != nil {
		return nil, err
	}
	if args.Target == nil {
		return nil, bridgeerr.New(bridgeerr.CodeInvalidArguments, "emit_to requires a target")
	}
	return nil, p.deliver(ctx, args.Event, args.Target, args.Payload)
}

func (p *eventPlugin) deliver(ctx context.Context, event string, target *ipccontract.EventTarget, payload json.RawMessage) error {
	if _, err := p.listeners.Emit(ctx, event, target, payload); err != nil {
		return err
	}
	if p.publisher == nil {
		return nil
	}

	err := p.publisher.Publish(ctx, ipccontract.EventPayload{
		EventType:  event,
		OccurredAt: p.now(),
		Target:     target,
		Data:       payload,
	})
	if err != nil {
		// Remote forwarding is best effort; local listeners already have the event.
		p.listeners.logger.WarnContext(ctx, "Failed to publish event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
