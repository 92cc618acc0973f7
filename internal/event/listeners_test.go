package event

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

type delivery struct {
	id    ipccontract.CallbackID
	event ipccontract.Event
}

// recordingSink implements transport.Sink for testing
type recordingSink struct {
	mu         sync.Mutex
	deliveries []delivery
	dead       map[ipccontract.CallbackID]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{dead: make(map[ipccontract.CallbackID]bool)}
}

func (s *recordingSink) Deliver(id ipccontract.CallbackID, payload json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead[id] {
		return false
	}
	var ev ipccontract.Event
	_ = json.Unmarshal(payload, &ev)
	s.deliveries = append(s.deliveries, delivery{id: id, event: ev})
	return true
}

func (s *recordingSink) ids() []ipccontract.CallbackID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ipccontract.CallbackID, len(s.deliveries))
	for i, d := range s.deliveries {
		out[i] = d.id
	}
	return out
}

func TestListeners_Emit_FanOutInRegistrationOrder(t *testing.T) {
	// Registration order is a best-effort guarantee; this pins it so a
	// change in delivery order is a deliberate decision.
	l := NewListeners(nil)
	sink := newRecordingSink()
	for _, id := range []ipccontract.CallbackID{"A", "B", "C"} {
		if _, err := l.Listen("saved", AnyTarget(), id, sink); err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
	}

	n, err := l.Emit(context.Background(), "saved", nil, json.RawMessage(`{"doc":1}`))
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if n != 3 {
		t.Errorf("delivered = %d, want 3", n)
	}

	got := sink.ids()
	want := []ipccontract.CallbackID{"A", "B", "C"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("delivery order = %v, want %v", got, want)
	}
	for _, d := range sink.deliveries {
		if string(d.event.Payload) != `{"doc":1}` || d.event.Event != "saved" {
			t.Errorf("unexpected event delivered to %s: %+v", d.id, d.event)
		}
	}
}

func TestListeners_Emit_CarriesListenerID(t *testing.T) {
	l := NewListeners(nil)
	sink := newRecordingSink()
	id, _ := l.Listen("saved", AnyTarget(), "A", sink)

	_, _ = l.Emit(context.Background(), "saved", nil, nil)

	if sink.deliveries[0].event.ID != id {
		t.Errorf("event id = %d, want listener id %d", sink.deliveries[0].event.ID, id)
	}
}

func TestListeners_Once_RemovedBeforeDelivery(t *testing.T) {
	l := NewListeners(nil)
	sink := newRecordingSink()
	_, _ = l.Once("saved", AnyTarget(), "once", sink)
	_, _ = l.Listen("saved", AnyTarget(), "always", sink)

	_, _ = l.Emit(context.Background(), "saved", nil, nil)
	_, _ = l.Emit(context.Background(), "saved", nil, nil)

	got := sink.ids()
	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %v", got)
	}
	if got[0] != "once" || got[1] != "always" || got[2] != "always" {
		t.Errorf("deliveries = %v", got)
	}
	if l.Count("saved") != 1 {
		t.Errorf("Count = %d, want 1", l.Count("saved"))
	}
}

func TestListeners_Emit_TargetFiltering(t *testing.T) {
	l := NewListeners(nil)
	sink := newRecordingSink()
	_, _ = l.Listen("saved", AnyTarget(), "any", sink)
	_, _ = l.Listen("saved", LabelTarget("main"), "main", sink)
	_, _ = l.Listen("saved", LabelTarget("settings"), "settings", sink)

	target := ipccontract.EventTarget{Kind: ipccontract.TargetWindow, Label: "main"}
	n, _ := l.Emit(context.Background(), "saved", &target, nil)

	got := sink.ids()
	if n != 2 || len(got) != 2 || got[0] != "any" || got[1] != "main" {
		t.Errorf("deliveries = %v (n=%d), want [any main]", got, n)
	}
}

func TestListeners_Emit_OtherEventsUntouched(t *testing.T) {
	l := NewListeners(nil)
	sink := newRecordingSink()
	_, _ = l.Listen("saved", AnyTarget(), "A", sink)

	n, _ := l.Emit(context.Background(), "deleted", nil, nil)
	if n != 0 || len(sink.ids()) != 0 {
		t.Error("event delivered to listener of another event")
	}
}

func TestListeners_Emit_DeadCallbackDropped(t *testing.T) {
	l := NewListeners(nil)
	sink := newRecordingSink()
	sink.dead["gone"] = true
	_, _ = l.Listen("saved", AnyTarget(), "gone", sink)
	_, _ = l.Listen("saved", AnyTarget(), "live", sink)

	n, _ := l.Emit(context.Background(), "saved", nil, nil)
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if l.Count("saved") != 1 {
		t.Errorf("dead listener not dropped, Count = %d", l.Count("saved"))
	}
}

func TestListeners_Unlisten_Idempotent(t *testing.T) {
	l := NewListeners(nil)
	sink := newRecordingSink()
	a, _ := l.Listen("saved", AnyTarget(), "A", sink)
	_, _ = l.Listen("saved", AnyTarget(), "B", sink)

	if !l.Unlisten("saved", a) {
		t.Error("first Unlisten reported nothing removed")
	}
	if l.Unlisten("saved", a) {
		t.Error("second Unlisten reported a removal")
	}
	if l.Unlisten("unknown", 99) {
		t.Error("Unlisten of unknown listener reported a removal")
	}

	_, _ = l.Emit(context.Background(), "saved", nil, nil)
	if got := sink.ids(); len(got) != 1 || got[0] != "B" {
		t.Errorf("other listener affected by unlisten: %v", got)
	}
}

func TestListeners_Listen_Validation(t *testing.T) {
	l := NewListeners(nil)
	sink := newRecordingSink()

	if _, err := l.Listen("bad name", AnyTarget(), "A", sink); !bridgeerr.HasCode(err, bridgeerr.CodeInvalidArguments) {
		t.Errorf("bad name: got %v", err)
	}
	if _, err := l.Listen("ok", AnyTarget(), "", sink); !bridgeerr.HasCode(err, bridgeerr.CodeInvalidArguments) {
		t.Errorf("empty handler: got %v", err)
	}
	if _, err := l.Listen("ok", AnyTarget(), "A", nil); !bridgeerr.HasCode(err, bridgeerr.CodeInvalidArguments) {
		t.Errorf("nil sink: got %v", err)
	}
	if _, err := l.Emit(context.Background(), "bad name", nil, nil); !bridgeerr.HasCode(err, bridgeerr.CodeInvalidArguments) {
		t.Errorf("emit bad name: got %v", err)
	}
}
