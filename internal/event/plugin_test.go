package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// mockPublisher implements Publisher for testing
type mockPublisher struct {
	payloads []ipccontract.EventPayload
	err      error
}

func (m *mockPublisher) Publish(ctx context.Context, payload ipccontract.EventPayload) error {
	m.payloads = append(m.payloads, payload)
	return m.err
}

// callPlugin runs one event plugin command and returns its result
func callPlugin(t *testing.T, registry *plugin.Registry, command, args string, sink *recordingSink) ipccontract.Result {
	t.Helper()
	reg, err := registry.Lookup(Module, command)
	if err != nil {
		t.Fatalf("Lookup(%s) failed: %v", command, err)
	}

	results := make(chan ipccontract.Result, 1)
	res := plugin.NewResolver("ok", "err", sink, plugin.OnSettle(func(r ipccontract.Result) {
		results <- r
	}))
	inv := plugin.NewInvoke(Module, command, plugin.Origin{Window: "main"}, json.RawMessage(args), sink)
	reg.Handler(context.Background(), inv, res)
	return <-results
}

func newTestPlugin(t *testing.T, pub Publisher) (*plugin.Registry, *Listeners) {
	t.Helper()
	listeners := NewListeners(nil)
	registry := plugin.NewRegistry()
	p := newEventPlugin(listeners, pub, func() string { return "2026-01-02T03:04:05Z" })
	if err := registry.RegisterPlugin(p.builder()); err != nil {
		t.Fatalf("RegisterPlugin failed: %v", err)
	}
	return registry, listeners
}

func TestPlugin_RegistersCommandsWithPermissions(t *testing.T) {
	registry := plugin.NewRegistry()
	if err := registry.RegisterPlugin(Plugin(NewListeners(nil), nil)); err != nil {
		t.Fatalf("RegisterPlugin failed: %v", err)
	}

	want := map[string]string{
		CommandListen:   PermissionListen,
		CommandUnlisten: PermissionUnlisten,
		CommandEmit:     PermissionEmit,
		CommandEmitTo:   PermissionEmitTo,
	}
	for command, permission := range want {
		reg, err := registry.Lookup(Module, command)
		if err != nil {
			t.Errorf("Lookup(%s) failed: %v", command, err)
			continue
		}
		if reg.Permission != permission {
			t.Errorf("%s permission = %q, want %q", command, reg.Permission, permission)
		}
	}
}

func TestPlugin_ListenEmitUnlisten(t *testing.T) {
	pub := &mockPublisher{}
	registry, listeners := newTestPlugin(t, pub)
	sink := newRecordingSink()

	result := callPlugin(t, registry, CommandListen, `{"event":"saved","handler":"h1"}`, sink)
	if result.IsErr() {
		t.Fatalf("listen failed: %+v", result.Err)
	}
	var eventID uint64
	if err := json.Unmarshal(result.Value, &eventID); err != nil || eventID == 0 {
		t.Fatalf("listen returned %s", result.Value)
	}
	if listeners.Count("saved") != 1 {
		t.Fatal("listener not registered")
	}

	result = callPlugin(t, registry, CommandEmit, `{"event":"saved","payload":{"n":1}}`, sink)
	if result.IsErr() {
		t.Fatalf("emit failed: %+v", result.Err)
	}

	var handled bool
	for _, d := range sink.deliveries {
		if d.id == "h1" && d.event.ID == eventID && string(d.event.Payload) == `{"n":1}` {
			handled = true
		}
	}
	if !handled {
		t.Errorf("event not delivered to h1: %+v", sink.deliveries)
	}

	if len(pub.payloads) != 1 || pub.payloads[0].EventType != "saved" || pub.payloads[0].OccurredAt != "2026-01-02T03:04:05Z" {
		t.Errorf("publisher payloads = %+v", pub.payloads)
	}
	if pub.payloads[0].Target != nil {
		t.Error("broadcast published with a target")
	}

	args, _ := json.Marshal(unlistenArgs{Event: "saved", EventID: eventID})
	result = callPlugin(t, registry, CommandUnlisten, string(args), sink)
	if result.IsErr() {
		t.Fatalf("unlisten failed: %+v", result.Err)
	}
	if listeners.Count("saved") != 0 {
		t.Error("listener not removed")
	}
}

func TestPlugin_EmitTo_RequiresTarget(t *testing.T) {
	registry, _ := newTestPlugin(t, nil)

	result := callPlugin(t, registry, CommandEmitTo, `{"event":"saved"}`, newRecordingSink())
	if !result.IsErr() || result.Err.Code != string(bridgeerr.CodeInvalidArguments) {
		t.Errorf("expected invalidArguments, got %+v", result)
	}
}

func TestPlugin_EmitTo_FiltersAndPublishesTarget(t *testing.T) {
	pub := &mockPublisher{}
	registry, listeners := newTestPlugin(t, pub)
	sink := newRecordingSink()
	_, _ = listeners.Listen("saved", LabelTarget("main"), "main", sink)
	_, _ = listeners.Listen("saved", LabelTarget("other"), "other", sink)

	result := callPlugin(t, registry, CommandEmitTo, `{"event":"saved","target":{"kind":"Window","label":"main"}}`, sink)
	if result.IsErr() {
		t.Fatalf("emit_to failed: %+v", result.Err)
	}

	var ids []ipccontract.CallbackID
	for _, d := range sink.deliveries {
		if d.id == "main" || d.id == "other" {
			ids = append(ids, d.id)
		}
	}
	if len(ids) != 1 || ids[0] != "main" {
		t.Errorf("deliveries = %v, want [main]", ids)
	}
	if pub.payloads[0].Target == nil || pub.payloads[0].Target.Label != "main" {
		t.Errorf("published target = %+v", pub.payloads[0].Target)
	}
}

func TestPlugin_PublisherFailure_DoesNotFailEmit(t *testing.T) {
	registry, _ := newTestPlugin(t, &mockPublisher{err: errors.New("queue down")})

	result := callPlugin(t, registry, CommandEmit, `{"event":"saved"}`, newRecordingSink())
	if result.IsErr() {
		t.Errorf("emit failed on publisher error: %+v", result.Err)
	}
}

func TestPlugin_Listen_InvalidName(t *testing.T) {
	registry, _ := newTestPlugin(t, nil)

	result := callPlugin(t, registry, CommandListen, `{"event":"bad name","handler":"h"}`, newRecordingSink())
	if !result.IsErr() || result.Err.Code != string(bridgeerr.CodeInvalidArguments) {
		t.Errorf("expected invalidArguments, got %+v", result)
	}
}
