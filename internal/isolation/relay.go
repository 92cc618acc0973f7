package isolation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Relay is the main-frame transport used when isolation is enabled. Outgoing
// envelopes are posted to the isolation frame, queued until the frame
// reports ready. Sealed messages coming back are forwarded to the host.
// Failures after Send has returned are delivered to the envelope's error
// callback through the sink.
type Relay struct {
	frameOrigin string
	toFrame     Poster
	inner       transport.Transport
	sink        transport.Sink
	logger      *slog.Logger

	mu    sync.Mutex
	ready bool
	queue []ipccontract.FramePayload
}

// NewRelay creates a relay that posts to the isolation frame with toFrame,
// accepts data only from frameOrigin and forwards sealed messages over inner.
// sink receives rejections for invocations that fail inside the relay.
func NewRelay(frameOrigin string, toFrame Poster, inner transport.Transport, sink transport.Sink, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		frameOrigin: frameOrigin,
		toFrame:     toFrame,
		inner:       inner,
		sink:        sink,
		logger:      logger,
	}
}

// Send implements transport.Transport
func (r *Relay) Send(ctx context.Context, env ipccontract.Envelope) error {
	payload := ipccontract.FramePayload{
		Cmd:      env.Cmd,
		Module:   env.Module,
		Callback: env.Callback,
		Error:    env.Error,
		Payload:  env.Args,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		r.queue = append(r.queue, payload)
		return nil
	}
	return r.post(ctx, payload)
}

// post must be called with r.mu held so posts keep submission order
func (r *Relay) post(ctx context.Context, payload ipccontract.FramePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "failed to serialize isolation payload", err)
	}
	if err := r.toFrame(ctx, data); err != nil {
		return bridgeerr.Wrap(bridgeerr.CodeTransportUnavailable, "isolation frame unavailable", err)
	}
	return nil
}

// Receive handles data posted to the main frame. The ready sentinel flushes
// the queue in order; sealed messages are forwarded to the host; rejections
// are delivered to their error callback; anything else, or anything from
// another origin, is dropped.
func (r *Relay) Receive(ctx context.Context, origin string, data []byte) {
	if origin != r.frameOrigin {
		return
	}

	var sentinel string
	if json.Unmarshal(data, &sentinel) == nil {
		if sentinel == ipccontract.IsolationReadySentinel {
			r.markReady(ctx)
		}
		return
	}

	switch Classify(data) {
	case KindMessage:
	case KindRejection:
		r.receiveRejection(ctx, data)
		return
	default:
		return
	}

	var msg ipccontract.FrameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	args, err := json.Marshal(msg.Payload)
	if err != nil {
		r.reject(ctx, msg.Module, msg.Cmd, msg.Error,
			bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "failed to serialize isolation message", err))
		return
	}

	env := ipccontract.Envelope{
		Cmd:      msg.Cmd,
		Module:   msg.Module,
		Callback: msg.Callback,
		Error:    msg.Error,
		Args:     args,
	}
	if err := r.inner.Send(ctx, env); err != nil {
		r.logger.ErrorContext(ctx, "Failed to forward isolation message",
			slog.String("command", ipccontract.FormatCommand(msg.Module, msg.Cmd)),
			slog.String("error", err.Error()),
		)
		r.reject(ctx, msg.Module, msg.Cmd, msg.Error, err)
	}
}

func (r *Relay) receiveRejection(ctx context.Context, data []byte) {
	var rejection ipccontract.FrameRejection
	if err := json.Unmarshal(data, &rejection); err != nil {
		return
	}
	r.deliver(ctx, rejection.Module, rejection.Cmd, rejection.Error, rejection.Rejection)
}

// reject delivers err to the error callback errorID
func (r *Relay) reject(ctx context.Context, module, cmd string, errorID ipccontract.CallbackID, err error) {
	payload := bridgeerr.ToPayload(err)
	if bridgeerr.CodeOf(err) == "" {
		payload.Code = string(bridgeerr.CodeTransportUnavailable)
	}
	r.deliver(ctx, module, cmd, errorID, payload)
}

func (r *Relay) deliver(ctx context.Context, module, cmd string, errorID ipccontract.CallbackID, payload ipccontract.ErrorPayload) {
	if r.sink == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if !r.sink.Deliver(errorID, data) {
		r.logger.DebugContext(ctx, "Isolation rejection had no waiting caller",
			slog.String("command", ipccontract.FormatCommand(module, cmd)),
		)
	}
}

func (r *Relay) markReady(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return
	}
	r.ready = true

	queued := r.queue
	r.queue = nil
	for _, payload := range queued {
		if err := r.post(ctx, payload); err != nil {
			r.logger.ErrorContext(ctx, "Failed to flush queued isolation payload",
				slog.String("command", ipccontract.FormatCommand(payload.Module, payload.Cmd)),
				slog.String("error", err.Error()),
			)
			r.reject(ctx, payload.Module, payload.Cmd, payload.Error, err)
		}
	}
}

// Ready reports whether the isolation frame has signalled readiness
func (r *Relay) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Queued returns the number of payloads waiting for the frame
func (r *Relay) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
