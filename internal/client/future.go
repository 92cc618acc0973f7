package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/callback"
)

// Future is the pending result of one invocation
type Future struct {
	once  sync.Once
	done  chan struct{}
	value json.RawMessage
	err   error

	callbacks [2]callback.ID
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value json.RawMessage) {
	f.once.Do(func() {
		f.value = value
		close(f.done)
	})
}

func (f *Future) reject(err *bridgeerr.Error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the Future settles
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future settles or ctx is done. A ctx error does not
// settle the Future; a later result is still recorded.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the result and unmarshals it into v. v may be nil.
func (f *Future) Decode(ctx context.Context, v any) error {
	raw, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
