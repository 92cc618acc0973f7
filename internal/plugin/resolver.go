package plugin

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Resolver settles one invocation. The first settling call wins; later
// calls are ignored.
type Resolver struct {
	callbackID ipccontract.CallbackID
	errorID    ipccontract.CallbackID
	sink       transport.Sink
	logger     *slog.Logger
	onSettle   func(ipccontract.Result)

	once sync.Once
	done chan struct{}
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used to report duplicate responses
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// OnSettle registers a hook that runs after the result has been delivered
func OnSettle(fn func(ipccontract.Result)) ResolverOption {
	return func(r *Resolver) {
		r.onSettle = fn
	}
}

// NewResolver creates a resolver delivering to callbackID or errorID through sink
func NewResolver(callbackID, errorID ipccontract.CallbackID, sink transport.Sink, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		callbackID: callbackID,
		errorID:    errorID,
		sink:       sink,
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve settles the invocation with a JSON-serializable value
func (r *Resolver) Resolve(value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		return r.Respond(ipccontract.Fail(ipccontract.ErrorPayload{
			Message: "failed to serialize command result: " + err.Error(),
			Code:    string(bridgeerr.CodeServerFail),
		}))
	}
	return r.Respond(ipccontract.Ok(raw))
}

// Reject settles the invocation with a structured error. data may be nil.
func (r *Resolver) Reject(message, code string, data any) bool {
	payload := ipccontract.ErrorPayload{Message: message, Code: code}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			r.logger.Warn("Dropping unserializable rejection data",
				slog.String("error", err.Error()),
			)
		} else {
			payload.Data = raw
		}
	}
	return r.Respond(ipccontract.Fail(payload))
}

// RejectError settles the invocation with err. Bridge errors keep their
// code; other errors are reported as serverFail.
func (r *Resolver) RejectError(err error) bool {
	return r.Respond(ipccontract.Fail(bridgeerr.ToPayload(err)))
}

// Respond delivers result to exactly one of the two callback identifiers.
// It reports whether this call settled the invocation.
func (r *Resolver) Respond(result ipccontract.Result) bool {
	settled := false
	r.once.Do(func() {
		settled = true
		r.deliver(result)
		close(r.done)
		if r.onSettle != nil {
			r.onSettle(result)
		}
	})
	if !settled {
		r.logger.Warn("Ignoring duplicate command response",
			slog.String("callback", string(r.callbackID)),
		)
	}
	return settled
}

// Done is closed once the invocation has been settled
func (r *Resolver) Done() <-chan struct{} {
	return r.done
}

func (r *Resolver) deliver(result ipccontract.Result) {
	id, payload := r.callbackID, result.Value
	if result.IsErr() {
		raw, err := json.Marshal(result.Err)
		if err != nil {
			raw = json.RawMessage(`{"message":"failed to serialize error","code":"serverFail"}`)
		}
		id, payload = r.errorID, raw
	}
	if !r.sink.Deliver(id, payload) {
		r.logger.Debug("Result delivered to a callback that no longer exists",
			slog.String("callback", string(id)),
		)
	}
}
