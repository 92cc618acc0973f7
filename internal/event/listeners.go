package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

type listener struct {
	id      uint64
	event   string
	target  ipccontract.EventTarget
	handler ipccontract.CallbackID
	sink    transport.Sink
	once    bool
}

// Listeners is the native-side subscription table. Emit delivers to the
// listeners of an event in the order they registered; that order is a
// convenience, not something correctness may rely on.
type Listeners struct {
	mu      sync.Mutex
	nextID  uint64
	byEvent map[string][]*listener
	logger  *slog.Logger
}

// NewListeners creates an empty subscription table
func NewListeners(logger *slog.Logger) *Listeners {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listeners{
		byEvent: make(map[string][]*listener),
		logger:  logger,
	}
}

// Listen subscribes handler, delivered through sink, to event and returns
// the listener id used to unlisten.
func (l *Listeners) Listen(event string, target ipccontract.EventTarget, handler ipccontract.CallbackID, sink transport.Sink) (uint64, error) {
	return l.add(event, target, handler, sink, false)
}

// Once subscribes handler for a single delivery
func (l *Listeners) Once(event string, target ipccontract.EventTarget, handler ipccontract.CallbackID, sink transport.Sink) (uint64, error) {
	return l.add(event, target, handler, sink, true)
}

func (l *Listeners) add(event string, target ipccontract.EventTarget, handler ipccontract.CallbackID, sink transport.Sink, once bool) (uint64, error) {
	if err := ValidateName(event); err != nil {
		return 0, err
	}
	if handler == "" || sink == nil {
		return 0, bridgeerr.New(bridgeerr.CodeInvalidArguments, "event handler is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.byEvent[event] = append(l.byEvent[event], &listener{
		id:      l.nextID,
		event:   event,
		target:  target,
		handler: handler,
		sink:    sink,
		once:    once,
	})
	return l.nextID, nil
}

// Unlisten removes a listener. It reports whether one was removed; removing
// an unknown or already removed listener is not an error.
func (l *Listeners) Unlisten(event string, id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(event, id)
}

func (l *Listeners) removeLocked(event string, id uint64) bool {
	list := l.byEvent[event]
	i := slices.IndexFunc(list, func(ln *listener) bool { return ln.id == id })
	if i < 0 {
		return false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(l.byEvent, event)
	} else {
		l.byEvent[event] = list
	}
	return true
}

// Count returns the number of listeners for event
func (l *Listeners) Count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byEvent[event])
}

// Emit delivers payload to every listener of event whose target matches.
// A nil target broadcasts. Once-listeners are removed before delivery, and
// listeners whose callback no longer exists are dropped. It returns the
// number of listeners that consumed the event.
func (l *Listeners) Emit(ctx context.Context, event string, target *ipccontract.EventTarget, payload json.RawMessage) (int, error) {
	if err := ValidateName(event); err != nil {
		return 0, err
	}
	emitTarget := AnyTarget()
	if target != nil {
		emitTarget = *target
	}

	l.mu.Lock()
	var recipients []*listener
	for _, ln := range l.byEvent[event] {
		if Matches(ln.target, emitTarget) {
			recipients = append(recipients, ln)
		}
	}
	for _, ln := range recipients {
		if ln.once {
			l.removeLocked(event, ln.id)
		}
	}
	l.mu.Unlock()

	delivered := 0
	for _, ln := range recipients {
		data, err := json.Marshal(ipccontract.Event{Event: event, ID: ln.id, Payload: payload})
		if err != nil {
			return delivered, bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "failed to serialize event", err)
		}
		if ln.sink.Deliver(ln.handler, data) {
			delivered++
			continue
		}
		l.logger.DebugContext(ctx, "Dropping listener with no live callback",
			slog.String("event", event),
			slog.String("handler", string(ln.handler)),
		)
		l.Unlisten(event, ln.id)
	}
	return delivered, nil
}
