package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

func TestResolver_Resolve_DeliversToCallback(t *testing.T) {
	sink := newRecordingSink()
	res := NewResolver("cb", "eb", sink)

	if !res.Resolve(map[string]string{"ok": "yes"}) {
		t.Fatal("expected first Resolve to settle")
	}

	if sink.count() != 1 || sink.ids[0] != "cb" {
		t.Fatalf("unexpected deliveries: %v", sink.ids)
	}
	if string(sink.payloads[0]) != `{"ok":"yes"}` {
		t.Errorf("unexpected payload: %s", sink.payloads[0])
	}
	select {
	case <-res.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestResolver_Reject_DeliversToErrorID(t *testing.T) {
	sink := newRecordingSink()
	res := NewResolver("cb", "eb", sink)

	res.Reject("not found", "ENOENT", map[string]string{"path": "/x"})

	if sink.count() != 1 || sink.ids[0] != "eb" {
		t.Fatalf("unexpected deliveries: %v", sink.ids)
	}
	var p ipccontract.ErrorPayload
	json.Unmarshal(sink.payloads[0], &p)
	if p.Message != "not found" || p.Code != "ENOENT" || string(p.Data) != `{"path":"/x"}` {
		t.Errorf("unexpected payload: %s", sink.payloads[0])
	}
}

func TestResolver_RejectError_ClassifiesPlainErrors(t *testing.T) {
	sink := newRecordingSink()
	res := NewResolver("cb", "eb", sink)

	res.RejectError(errors.New("disk full"))

	var p ipccontract.ErrorPayload
	json.Unmarshal(sink.payloads[0], &p)
	if p.Code != string(bridgeerr.CodeServerFail) || p.Message != "disk full" {
		t.Errorf("unexpected payload: %s", sink.payloads[0])
	}
}

func TestResolver_FirstResponseWins(t *testing.T) {
	sink := newRecordingSink()
	var settled []ipccontract.Result
	res := NewResolver("cb", "eb", sink, OnSettle(func(r ipccontract.Result) {
		settled = append(settled, r)
	}))

	res.Resolve(1)
	if res.Reject("late", "", nil) {
		t.Error("expected second response to be ignored")
	}
	if res.Resolve(2) {
		t.Error("expected third response to be ignored")
	}

	if sink.count() != 1 {
		t.Errorf("expected exactly 1 delivery, got %d", sink.count())
	}
	if len(settled) != 1 || settled[0].IsErr() {
		t.Errorf("unexpected settle hook calls: %+v", settled)
	}
}

func TestResolver_UnserializableValue_IsServerFail(t *testing.T) {
	sink := newRecordingSink()
	res := NewResolver("cb", "eb", sink)

	res.Resolve(func() {})

	if sink.ids[0] != "eb" {
		t.Fatalf("expected delivery to error id, got %s", sink.ids[0])
	}
}

func TestSync_AdaptsCommandFunc(t *testing.T) {
	sink := newRecordingSink()
	h := Sync(func(ctx context.Context, inv *Invoke) (any, error) {
		return nil, bridgeerr.New(bridgeerr.CodeInvalidArguments, "bad")
	})

	h(context.Background(), testInvoke(`{}`), NewResolver("cb", "eb", sink))

	var p ipccontract.ErrorPayload
	json.Unmarshal(sink.payloads[0], &p)
	if sink.ids[0] != "eb" || p.Code != string(bridgeerr.CodeInvalidArguments) {
		t.Errorf("unexpected delivery: %s %s", sink.ids[0], sink.payloads[0])
	}
}
