package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/event"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/isolation"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// appRegistry returns a registry with an App module exposing greet, which
// needs no permission, and secret, which needs app:allow-secret
func appRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	registry := plugin.NewRegistry()
	app := plugin.NewBuilder("App").
		HandleFunc("greet", func(ctx context.Context, inv *plugin.Invoke) (any, error) {
			name, err := inv.String("name")
			if err != nil {
				return nil, err
			}
			return map[string]string{"greeting": "hello " + name}, nil
		}).
		HandleFunc("secret", func(ctx context.Context, inv *plugin.Invoke) (any, error) {
			return "shh", nil
		}, plugin.RequirePermission("app:allow-secret"))
	if err := registry.RegisterCore(app); err != nil {
		t.Fatalf("RegisterCore failed: %v", err)
	}
	return registry
}

func newBridge(t *testing.T, registry *plugin.Registry, opts ...Option) *Bridge {
	t.Helper()
	b, err := New(testCtx(t), registry, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func mainAuthority(t *testing.T, permissions ...string) *plugin.Authority {
	t.Helper()
	a, err := plugin.NewAuthority(plugin.Capability{
		Identifier:  "main-window",
		Windows:     []string{"main"},
		Permissions: permissions,
	})
	if err != nil {
		t.Fatalf("NewAuthority failed: %v", err)
	}
	return a
}

func TestBridge_CoreCommand_RoundTrip(t *testing.T) {
	b := newBridge(t, appRegistry(t))

	var out struct {
		Greeting string `json:"greeting"`
	}
	if err := b.Client.Call(testCtx(t), "App", "greet", map[string]string{"name": "world"}, &out); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if out.Greeting != "hello world" {
		t.Errorf("Expected greeting 'hello world', got %q", out.Greeting)
	}
	if b.Client.Pending() != 0 {
		t.Errorf("Expected no pending calls, got %d", b.Client.Pending())
	}
}

func TestBridge_HandlerError_RejectsCall(t *testing.T) {
	b := newBridge(t, appRegistry(t))

	err := b.Client.Call(testCtx(t), "App", "greet", map[string]any{}, nil)
	if !bridgeerr.HasCode(err, bridgeerr.CodeInvalidArguments) {
		t.Errorf("Expected invalidArguments, got %v", err)
	}
}

func TestBridge_UnknownCommand_Rejects(t *testing.T) {
	b := newBridge(t, appRegistry(t))

	err := b.Client.Call(testCtx(t), "App", "missing", nil, nil)
	if !bridgeerr.HasCode(err, bridgeerr.CodeUnknownCommand) {
		t.Errorf("Expected unknownCommand, got %v", err)
	}
}

func TestBridge_PermissionedCommand_NoAuthority_Unauthorized(t *testing.T) {
	b := newBridge(t, appRegistry(t))

	err := b.Client.Call(testCtx(t), "App", "secret", nil, nil)
	if !bridgeerr.HasCode(err, bridgeerr.CodeUnauthorized) {
		t.Errorf("Expected unauthorized, got %v", err)
	}
}

func TestBridge_PermissionedCommand_Granted_Succeeds(t *testing.T) {
	b := newBridge(t, appRegistry(t), WithAuthority(mainAuthority(t, "app:allow-secret")))

	var out string
	if err := b.Client.Call(testCtx(t), "App", "secret", nil, &out); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if out != "shh" {
		t.Errorf("Expected 'shh', got %q", out)
	}
}

func TestBridge_OtherWindow_NotGranted(t *testing.T) {
	b := newBridge(t, appRegistry(t),
		WithWindow("settings"),
		WithAuthority(mainAuthority(t, "app:allow-secret")),
	)

	err := b.Client.Call(testCtx(t), "App", "secret", nil, nil)
	if !bridgeerr.HasCode(err, bridgeerr.CodeUnauthorized) {
		t.Errorf("Expected unauthorized for settings window, got %v", err)
	}
}

func TestBridge_Events_ListenEmitUnlisten(t *testing.T) {
	b := newBridge(t, appRegistry(t), WithAuthority(mainAuthority(t, "core:event:*")))
	ctx := testCtx(t)

	got := make(chan ipccontract.Event, 4)
	unlisten, err := b.Events.Listen(ctx, "progress", func(ev ipccontract.Event) {
		got <- ev
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if n := b.Listeners.Count("progress"); n != 1 {
		t.Fatalf("Expected 1 native listener, got %d", n)
	}

	if err := b.Events.Emit(ctx, "progress", map[string]int{"done": 3}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Event != "progress" {
			t.Errorf("Expected event 'progress', got %q", ev.Event)
		}
		if string(ev.Payload) != `{"done":3}` {
			t.Errorf("Expected payload {\"done\":3}, got %s", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	if err := unlisten(ctx); err != nil {
		t.Fatalf("unlisten failed: %v", err)
	}
	if n := b.Listeners.Count("progress"); n != 0 {
		t.Errorf("Expected listener removed, got %d", n)
	}
}

func TestBridge_Events_WithoutPermission_Unauthorized(t *testing.T) {
	b := newBridge(t, appRegistry(t))

	_, err := b.Events.Listen(testCtx(t), "progress", func(ipccontract.Event) {})
	if !bridgeerr.HasCode(err, bridgeerr.CodeUnauthorized) {
		t.Errorf("Expected unauthorized, got %v", err)
	}
	if b.Callbacks.Len() != 0 {
		t.Errorf("Expected handler callback removed, got %d callbacks", b.Callbacks.Len())
	}
}

func TestBridge_Events_OnceWithSingleWorker_DoesNotBlock(t *testing.T) {
	b := newBridge(t, appRegistry(t),
		WithWorkers(1, 0),
		WithAuthority(mainAuthority(t, "core:event:*")),
	)
	ctx := testCtx(t)

	got := make(chan ipccontract.Event, 2)
	if err := b.Events.Once(ctx, "ping", func(ev ipccontract.Event) { got <- ev }); err != nil {
		t.Fatalf("Once failed: %v", err)
	}

	emitted := make(chan error, 1)
	go func() { emitted <- b.Events.Emit(ctx, "ping", nil) }()
	select {
	case err := <-emitted:
		if err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked behind once-listener cleanup")
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Listeners.Count("ping") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := b.Listeners.Count("ping"); n != 0 {
		t.Errorf("Expected once listener removed, got %d", n)
	}

	if err := b.Events.Emit(ctx, "ping", nil); err != nil {
		t.Fatalf("second Emit failed: %v", err)
	}
	select {
	case ev := <-got:
		t.Errorf("once handler fired again: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridge_Isolation_RoundTrip(t *testing.T) {
	keys, err := isolation.NewKeys()
	if err != nil {
		t.Fatalf("NewKeys failed: %v", err)
	}
	b := newBridge(t, appRegistry(t), WithIsolation(keys, nil))

	if b.Relay == nil || b.Frame == nil {
		t.Fatal("Expected relay and frame to be set")
	}
	if !b.Relay.Ready() {
		t.Error("Expected relay to be ready after New")
	}

	var out struct {
		Greeting string `json:"greeting"`
	}
	if err := b.Client.Call(testCtx(t), "App", "greet", map[string]string{"name": "frame"}, &out); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if out.Greeting != "hello frame" {
		t.Errorf("Expected greeting 'hello frame', got %q", out.Greeting)
	}
}

func TestBridge_Isolation_HookRewritesPayload(t *testing.T) {
	keys, err := isolation.NewKeys()
	if err != nil {
		t.Fatalf("NewKeys failed: %v", err)
	}
	hook := func(ctx context.Context, p ipccontract.FramePayload) (ipccontract.FramePayload, error) {
		p.Payload = []byte(`{"name":"rewritten"}`)
		return p, nil
	}
	b := newBridge(t, appRegistry(t), WithIsolation(keys, hook))

	var out struct {
		Greeting string `json:"greeting"`
	}
	if err := b.Client.Call(testCtx(t), "App", "greet", map[string]string{"name": "original"}, &out); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if out.Greeting != "hello rewritten" {
		t.Errorf("Expected greeting 'hello rewritten', got %q", out.Greeting)
	}
}

func TestBridge_Isolation_HookRejects_RejectsCall(t *testing.T) {
	keys, err := isolation.NewKeys()
	if err != nil {
		t.Fatalf("NewKeys failed: %v", err)
	}
	hook := func(ctx context.Context, p ipccontract.FramePayload) (ipccontract.FramePayload, error) {
		return p, errors.New("blocked")
	}
	b := newBridge(t, appRegistry(t), WithIsolation(keys, hook))

	err = b.Client.Call(testCtx(t), "App", "greet", map[string]string{"name": "frame"}, nil)
	if !bridgeerr.HasCode(err, bridgeerr.CodeUnauthorized) {
		t.Errorf("Expected unauthorized, got %v", err)
	}
	if b.Client.Pending() != 0 {
		t.Errorf("Expected no pending calls, got %d", b.Client.Pending())
	}
	if b.Callbacks.Len() != 0 {
		t.Errorf("Expected callbacks removed, got %d", b.Callbacks.Len())
	}
}

func TestBridge_Close_FailsPendingCalls(t *testing.T) {
	registry := plugin.NewRegistry()
	started := make(chan struct{})
	silent := plugin.NewBuilder("App").Handle("hang", func(ctx context.Context, inv *plugin.Invoke, res *plugin.Resolver) {
		close(started)
	})
	if err := registry.RegisterCore(silent); err != nil {
		t.Fatalf("RegisterCore failed: %v", err)
	}
	b, err := New(testCtx(t), registry)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	future := b.Client.Invoke(testCtx(t), "App", "hang", nil)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}

	b.Close()
	b.Close()

	_, err = future.Wait(testCtx(t))
	if !bridgeerr.HasCode(err, bridgeerr.CodeBridgeClosed) {
		t.Errorf("Expected bridgeClosed, got %v", err)
	}
	if b.Callbacks.Len() != 0 {
		t.Errorf("Expected callbacks dropped, got %d", b.Callbacks.Len())
	}
}

func TestNew_EventPluginAlreadyRegistered_Fails(t *testing.T) {
	registry := plugin.NewRegistry()
	if err := registry.RegisterPlugin(event.Plugin(event.NewListeners(nil), nil)); err != nil {
		t.Fatalf("RegisterPlugin failed: %v", err)
	}

	_, err := New(testCtx(t), registry)
	if err == nil {
		t.Fatal("Expected error for duplicate event plugin")
	}
}
