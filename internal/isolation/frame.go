package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// DefaultPollInterval is how often Start checks for the hook
const DefaultPollInterval = 50 * time.Millisecond

// jsonContentType marks sealed payloads holding JSON arguments
const jsonContentType = "application/json"

// Poster delivers data to the other frame
type Poster func(ctx context.Context, data []byte) error

// Hook inspects or rewrites a payload before it is sealed. Returning an
// error rejects the invocation.
type Hook func(ctx context.Context, payload ipccontract.FramePayload) (ipccontract.FramePayload, error)

// Frame is the isolation frame: it accepts plaintext payloads from the main
// frame, passes them through the hook and posts them back sealed.
type Frame struct {
	keys         *Keys
	parentOrigin string
	post         Poster
	interval     time.Duration
	logger       *slog.Logger

	mu   sync.RWMutex
	hook Hook
}

// FrameOption configures a Frame
type FrameOption func(*Frame)

// WithPollInterval overrides how often Start checks for the hook
func WithPollInterval(d time.Duration) FrameOption {
	return func(f *Frame) {
		f.interval = d
	}
}

// WithFrameLogger sets the logger for dropped payloads
func WithFrameLogger(logger *slog.Logger) FrameOption {
	return func(f *Frame) {
		f.logger = logger
	}
}

// NewFrame creates an isolation frame that only accepts data from
// parentOrigin and posts sealed messages with post.
func NewFrame(keys *Keys, parentOrigin string, post Poster, opts ...FrameOption) *Frame {
	f := &Frame{
		keys:         keys,
		parentOrigin: parentOrigin,
		post:         post,
		interval:     DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetHook installs the payload hook. Start waits for it.
func (f *Frame) SetHook(hook Hook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

func (f *Frame) currentHook() Hook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hook
}

// Start polls until a hook is installed and then posts the ready sentinel.
// It returns ctx.Err() if ctx ends first.
func (f *Frame) Start(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for f.currentHook() == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	sentinel, _ := json.Marshal(ipccontract.IsolationReadySentinel)
	if err := f.post(ctx, sentinel); err != nil {
		return fmt.Errorf("failed to post ready sentinel: %w", err)
	}
	return nil
}

// Receive handles data posted by the main frame. Data from any other origin
// or of any other shape is dropped and Receive reports false. A payload the
// hook refuses, or one that cannot be sealed or posted, is answered with a
// rejection so the caller's error callback fires.
func (f *Frame) Receive(ctx context.Context, origin string, data []byte) bool {
	if origin != f.parentOrigin {
		f.logger.DebugContext(ctx, "Dropping isolation data from unexpected origin",
			slog.String("origin", origin),
		)
		return false
	}
	if Classify(data) != KindPayload {
		return false
	}

	var in ipccontract.FramePayload
	if err := json.Unmarshal(data, &in); err != nil {
		return false
	}

	payload := in
	if hook := f.currentHook(); hook != nil {
		var err error
		payload, err = hook(ctx, in)
		if err != nil {
			f.logger.WarnContext(ctx, "Isolation hook rejected payload",
				slog.String("command", in.Cmd),
				slog.String("error", err.Error()),
			)
			f.reject(ctx, in, hookRejection(in, err))
			return false
		}
	}

	plain := []byte(payload.Payload)
	if len(plain) == 0 {
		plain = []byte("{}")
	}
	sealed, err := f.keys.Encrypt(plain, jsonContentType)
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to seal isolation payload",
			slog.String("error", err.Error()),
		)
		f.reject(ctx, in, bridgeerr.Wrap(bridgeerr.CodeServerFail, "failed to seal isolation payload", err))
		return false
	}

	out, err := json.Marshal(ipccontract.FrameMessage{
		Cmd:      payload.Cmd,
		Module:   payload.Module,
		Callback: in.Callback,
		Error:    in.Error,
		Payload:  sealed,
	})
	if err != nil {
		f.reject(ctx, in, bridgeerr.Wrap(bridgeerr.CodeServerFail, "failed to serialize isolation message", err))
		return false
	}

	if err := f.post(ctx, out); err != nil {
		f.logger.ErrorContext(ctx, "Failed to post isolation message",
			slog.String("error", err.Error()),
		)
		f.reject(ctx, in, bridgeerr.Wrap(bridgeerr.CodeTransportUnavailable, "failed to post isolation message", err))
		return false
	}
	return true
}

// hookRejection keeps a bridge error returned by the hook and classifies any
// other error as unauthorized
func hookRejection(payload ipccontract.FramePayload, err error) error {
	if bridgeerr.CodeOf(err) != "" {
		return err
	}
	return bridgeerr.Wrap(bridgeerr.CodeUnauthorized,
		fmt.Sprintf("isolation hook rejected command %s: %s", payload.Cmd, err.Error()), err)
}

// reject posts a rejection for payload back to the main frame
func (f *Frame) reject(ctx context.Context, payload ipccontract.FramePayload, cause error) {
	out, err := json.Marshal(ipccontract.FrameRejection{
		Cmd:       payload.Cmd,
		Module:    payload.Module,
		Callback:  payload.Callback,
		Error:     payload.Error,
		Rejection: bridgeerr.ToPayload(cause),
	})
	if err != nil {
		return
	}
	if err := f.post(ctx, out); err != nil {
		f.logger.ErrorContext(ctx, "Failed to post isolation rejection",
			slog.String("command", payload.Cmd),
			slog.String("error", err.Error()),
		)
	}
}
