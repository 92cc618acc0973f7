// Package callback holds host-side handlers keyed by unguessable identifiers
// so results arriving asynchronously from the native side can be routed back
// to the caller that is waiting for them.
package callback

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// ID identifies a registered handler
type ID = ipccontract.CallbackID

// Handler receives the JSON value delivered for an identifier
type Handler func(payload json.RawMessage)

// maxIDAttempts bounds re-drawing on the (astronomically unlikely) collision
// with a live identifier.
const maxIDAttempts = 8

type entry struct {
	handler Handler
	once    bool
}

// Registry maps identifiers to one-shot or repeatable handlers.
// It is safe for concurrent use; handlers always run outside the lock.
type Registry struct {
	mu      sync.Mutex
	entries map[ID]entry
	closed  bool
	newID   func() (string, error)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[ID]entry),
		newID:   randomID,
	}
}

// randomID draws a version 4 UUID from crypto/rand
func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Register stores handler under a fresh identifier. One-shot handlers are
// removed the first time they are resolved.
func (r *Registry) Register(handler Handler, once bool) (ID, error) {
	if handler == nil {
		return "", bridgeerr.New(bridgeerr.CodeInvalidArguments, "callback handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", bridgeerr.New(bridgeerr.CodeBridgeClosed, "callback registry is closed")
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		raw, err := r.newID()
		if err != nil {
			return "", fmt.Errorf("failed to generate callback id: %w", err)
		}
		id := ID(raw)
		if _, exists := r.entries[id]; exists {
			continue
		}
		r.entries[id] = entry{handler: handler, once: once}
		return id, nil
	}

	return "", fmt.Errorf("failed to generate a unique callback id after %d attempts", maxIDAttempts)
}

// Resolve invokes the handler registered under id with payload. It returns
// false when no handler exists: late or duplicate deliveries are ignored.
func (r *Registry) Resolve(id ID, payload json.RawMessage) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok && e.once {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.handler(payload)
	return true
}

// Deliver implements the transport result sink
func (r *Registry) Deliver(id ID, payload json.RawMessage) bool {
	return r.Resolve(id, payload)
}

// Remove deletes the handler registered under id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Has reports whether a handler is registered under id
func (r *Registry) Has(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of live handlers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close drops every handler and rejects further registrations.
// Resolving after Close is a no-op.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	clear(r.entries)
}
