package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

func TestPool_DispatchesAllSubmissions(t *testing.T) {
	d := New(Config{Registry: newTestRegistry(t)})
	pool := NewPool(d, 4, 16)
	defer pool.Close()

	sink := newRecordingSink()
	const n = 100
	for i := range n {
		env := ipccontract.Envelope{
			Cmd:      "greet",
			Callback: ipccontract.CallbackID(fmt.Sprintf("cb-%d", i)),
			Error:    ipccontract.CallbackID(fmt.Sprintf("eb-%d", i)),
			Args:     json.RawMessage(fmt.Sprintf(`{"name":"%d"}`, i)),
		}
		if err := pool.Submit(context.Background(), Message{Envelope: env}, sink); err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
	}

	got := sink.wait(t, n)
	seen := make(map[ipccontract.CallbackID]bool)
	for _, del := range got {
		if seen[del.id] {
			t.Errorf("callback %s delivered twice", del.id)
		}
		seen[del.id] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct deliveries, got %d", n, len(seen))
	}
}

func TestPool_Close_DrainsQueueAndRejectsNewWork(t *testing.T) {
	d := New(Config{Registry: newTestRegistry(t)})
	pool := NewPool(d, 1, 8)

	sink := newRecordingSink()
	for range 5 {
		pool.Submit(context.Background(), Message{Envelope: envelope("App", "greet", `{"name":"x"}`)}, sink)
	}
	pool.Close()

	sink.mu.Lock()
	delivered := len(sink.deliveries)
	sink.mu.Unlock()
	if delivered != 5 {
		t.Errorf("expected queued work to drain, got %d deliveries", delivered)
	}

	err := pool.Submit(context.Background(), Message{Envelope: envelope("App", "greet", "")}, sink)
	if !bridgeerr.HasCode(err, bridgeerr.CodeBridgeClosed) {
		t.Errorf("expected bridgeClosed, got %v", err)
	}

	pool.Close()
}

func TestPool_Host_DecodesEnvelopes(t *testing.T) {
	d := New(Config{Registry: newTestRegistry(t)})
	pool := NewPool(d, 2, 4)
	defer pool.Close()

	sink := newRecordingSink()
	host := pool.Host(plugin.Origin{Window: "main"}, sink)

	msg, _ := json.Marshal(envelope("App", "greet", `{"name":"host"}`))
	if err := host(context.Background(), msg); err != nil {
		t.Fatalf("host returned error: %v", err)
	}
	got := sink.wait(t, 1)
	if string(got[0].payload) != `"hello host"` {
		t.Errorf("unexpected payload: %s", got[0].payload)
	}

	if err := host(context.Background(), []byte("{not json")); !bridgeerr.HasCode(err, bridgeerr.CodeInvalidArguments) {
		t.Errorf("expected invalidArguments, got %v", err)
	}
}
