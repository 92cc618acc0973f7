package callback

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
)

func TestRegistry_Resolve_OnceHandlerRemovedAfterFirstCall(t *testing.T) {
	r := NewRegistry()
	calls := 0

	id, err := r.Register(func(json.RawMessage) { calls++ }, true)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if !r.Resolve(id, json.RawMessage(`1`)) {
		t.Error("expected first Resolve to deliver")
	}
	if r.Resolve(id, json.RawMessage(`2`)) {
		t.Error("expected duplicate Resolve to be ignored")
	}

	if calls != 1 {
		t.Errorf("expected handler to run once, ran %d times", calls)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d entries", r.Len())
	}
}

func TestRegistry_Resolve_RepeatableHandlerRetained(t *testing.T) {
	r := NewRegistry()
	var got []string

	id, err := r.Register(func(p json.RawMessage) { got = append(got, string(p)) }, false)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	r.Resolve(id, json.RawMessage(`"a"`))
	r.Resolve(id, json.RawMessage(`"b"`))

	if len(got) != 2 || got[0] != `"a"` || got[1] != `"b"` {
		t.Errorf("unexpected deliveries: %v", got)
	}
	if !r.Has(id) {
		t.Error("expected repeatable handler to remain registered")
	}
}

func TestRegistry_Resolve_UnknownIDIsNoop(t *testing.T) {
	r := NewRegistry()

	if r.Resolve("does-not-exist", json.RawMessage(`null`)) {
		t.Error("expected Resolve on unknown id to return false")
	}
}

func TestRegistry_Remove_Idempotent(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Register(func(json.RawMessage) {}, false)
	other, _ := r.Register(func(json.RawMessage) {}, false)

	if !r.Remove(id) {
		t.Error("expected first Remove to succeed")
	}
	if r.Remove(id) {
		t.Error("expected second Remove to be a no-op")
	}
	if !r.Has(other) {
		t.Error("expected unrelated handler to be unaffected")
	}
}

func TestRegistry_Register_ConcurrentIDsAreUnique(t *testing.T) {
	r := NewRegistry()
	const n = 2000

	ids := make([]ID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Register(func(json.RawMessage) {}, true)
			if err != nil {
				t.Errorf("Register returned error: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[ID]bool, n)
	for _, id := range ids {
		if id == "" {
			t.Fatal("expected non-empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
	if r.Len() != n {
		t.Errorf("expected %d entries, got %d", n, r.Len())
	}
}

func TestRegistry_Register_RedrawsOnCollision(t *testing.T) {
	r := NewRegistry()
	draws := []string{"same", "same", "fresh"}
	r.newID = func() (string, error) {
		next := draws[0]
		draws = draws[1:]
		return next, nil
	}

	first, err := r.Register(func(json.RawMessage) {}, true)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	second, err := r.Register(func(json.RawMessage) {}, true)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if first != "same" || second != "fresh" {
		t.Errorf("expected ids 'same' and 'fresh', got '%s' and '%s'", first, second)
	}
}

func TestRegistry_Register_NilHandler(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register(nil, true)
	if !bridgeerr.HasCode(err, bridgeerr.CodeInvalidArguments) {
		t.Errorf("expected invalidArguments error, got %v", err)
	}
}

func TestRegistry_Close_RejectsRegistrationAndIgnoresResolve(t *testing.T) {
	r := NewRegistry()
	called := false
	id, _ := r.Register(func(json.RawMessage) { called = true }, true)

	r.Close()

	if r.Resolve(id, json.RawMessage(`null`)) {
		t.Error("expected Resolve after Close to be ignored")
	}
	if called {
		t.Error("expected handler not to run after Close")
	}
	if _, err := r.Register(func(json.RawMessage) {}, true); !bridgeerr.HasCode(err, bridgeerr.CodeBridgeClosed) {
		t.Errorf("expected bridgeClosed error, got %v", err)
	}
}

func TestRegistry_Resolve_HandlerMayReenterRegistry(t *testing.T) {
	r := NewRegistry()
	var inner ID

	id, _ := r.Register(func(json.RawMessage) {
		inner, _ = r.Register(func(json.RawMessage) {}, true)
	}, true)

	r.Resolve(id, nil)

	if inner == "" || !r.Has(inner) {
		t.Error("expected handler to register a new callback without deadlocking")
	}
}
