// Package dispatcher routes invocation envelopes to registered command
// handlers on the native side and guarantees each one is settled exactly once.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/tracing"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
	"go.opentelemetry.io/otel/trace"
)

// Metric names recorded per dispatch outcome
const (
	MetricSucceeded    = "CommandSucceeded"
	MetricFailed       = "CommandFailed"
	MetricUnknown      = "CommandUnknown"
	MetricUnauthorized = "CommandUnauthorized"
	MetricNoResponse   = "CommandNoResponse"
	MetricPanicked     = "CommandPanicked"
)

// Message is an envelope together with where it came from
type Message struct {
	Envelope ipccontract.Envelope
	Origin   plugin.Origin
}

// Decrypter opens isolation messages
type Decrypter interface {
	Decrypt(msg ipccontract.IsolationMessage) ([]byte, error)
}

// Counter records named events
type Counter interface {
	Increment(name string)
}

// Config holds configuration for the dispatcher
type Config struct {
	Registry *plugin.Registry
	// Authority gates commands that require a permission. When nil, such
	// commands are refused.
	Authority *plugin.Authority
	// Isolation, when set, requires every envelope's args to be an
	// encrypted isolation message.
	Isolation Decrypter
	// ResponseTimeout rejects invocations whose handler has not settled in
	// time. Zero disables the watchdog.
	ResponseTimeout time.Duration
	Metrics         Counter
	Logger          *slog.Logger
}

// Dispatcher executes commands
type Dispatcher struct {
	cfg Config
}

// New creates a dispatcher
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg}
}

// Dispatch looks up, authorizes and runs the command in msg. The result is
// delivered to sink under exactly one of the envelope's callback
// identifiers. Dispatch returns once the handler returns; handlers may
// settle later from another goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, sink transport.Sink) {
	env := msg.Envelope

	ctx, span := tracing.StartHandlerSpan(ctx, "Dispatch",
		tracing.Module(env.Module),
		tracing.Command(env.Cmd),
		tracing.Window(msg.Origin.Window),
	)
	defer span.End()

	res := plugin.NewResolver(env.Callback, env.Error, sink,
		plugin.WithResolverLogger(d.cfg.Logger),
		plugin.OnSettle(func(result ipccontract.Result) {
			d.count(outcomeMetric(result))
		}),
	)

	reg, err := d.cfg.Registry.Lookup(env.Module, env.Cmd)
	if err != nil {
		d.fail(ctx, span, res, env, err)
		return
	}

	if err := d.authorize(msg.Origin, reg.Permission); err != nil {
		d.fail(ctx, span, res, env, err)
		return
	}

	args, err := d.openArgs(env.Args)
	if err != nil {
		d.fail(ctx, span, res, env, err)
		return
	}

	if d.cfg.ResponseTimeout > 0 {
		go d.watch(res, env, d.cfg.ResponseTimeout)
	}

	inv := plugin.NewInvoke(reg.Module, reg.Command, msg.Origin, args, sink)
	d.run(ctx, reg, inv, res)
}

func (d *Dispatcher) authorize(origin plugin.Origin, permission string) error {
	if permission == "" {
		return nil
	}
	if d.cfg.Authority == nil {
		return bridgeerr.New(bridgeerr.CodeUnauthorized,
			fmt.Sprintf("permission %s not allowed: no capabilities configured", permission))
	}
	return d.cfg.Authority.Authorize(origin, permission)
}

// openArgs decrypts isolation-wrapped arguments when isolation is enabled
func (d *Dispatcher) openArgs(args json.RawMessage) (json.RawMessage, error) {
	if d.cfg.Isolation == nil {
		return args, nil
	}

	var sealed ipccontract.IsolationMessage
	if err := json.Unmarshal(args, &sealed); err != nil || len(sealed.Nonce) == 0 || len(sealed.Payload) == 0 {
		return nil, bridgeerr.New(bridgeerr.CodeInvalidArguments, "isolation is enabled but args are not an encrypted isolation message")
	}

	plain, err := d.cfg.Isolation.Decrypt(sealed)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "failed to decrypt isolation message", err)
	}
	if !json.Valid(plain) {
		return nil, bridgeerr.New(bridgeerr.CodeInvalidArguments, "decrypted isolation payload is not valid JSON")
	}
	return plain, nil
}

// run executes the handler, converting a panic into a serverFail rejection
func (d *Dispatcher) run(ctx context.Context, reg plugin.Registration, inv *plugin.Invoke, res *plugin.Resolver) {
	defer func() {
		if r := recover(); r != nil {
			d.count(MetricPanicked)
			d.cfg.Logger.ErrorContext(ctx, "Command handler panicked",
				slog.String("module", reg.Module),
				slog.String("command", reg.Command),
				slog.String("panic", fmt.Sprint(r)),
			)
			res.Reject(fmt.Sprintf("command %s panicked: %v", reg.Command, r), string(bridgeerr.CodeServerFail), nil)
		}
	}()

	reg.Handler(ctx, inv, res)
}

// watch rejects the invocation with noResponse if it is still unsettled after timeout
func (d *Dispatcher) watch(res *plugin.Resolver, env ipccontract.Envelope, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-res.Done():
	case <-timer.C:
		if res.Reject(fmt.Sprintf("command %s did not respond within %s", ipccontract.FormatCommand(env.Module, env.Cmd), timeout),
			string(bridgeerr.CodeNoResponse), nil) {
			d.cfg.Logger.Warn("Command handler never responded",
				slog.String("module", env.Module),
				slog.String("command", env.Cmd),
			)
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, res *plugin.Resolver, env ipccontract.Envelope, err error) {
	d.cfg.Logger.WarnContext(ctx, "Command rejected before execution",
		slog.String("module", env.Module),
		slog.String("command", env.Cmd),
		slog.String("error", err.Error()),
	)
	tracing.RecordError(span, err)
	res.RejectError(err)
}

func (d *Dispatcher) count(name string) {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.Increment(name)
	}
}

func outcomeMetric(result ipccontract.Result) string {
	if !result.IsErr() {
		return MetricSucceeded
	}
	switch bridgeerr.Code(result.Err.Code) {
	case bridgeerr.CodeUnknownCommand:
		return MetricUnknown
	case bridgeerr.CodeUnauthorized:
		return MetricUnauthorized
	case bridgeerr.CodeNoResponse:
		return MetricNoResponse
	default:
		return MetricFailed
	}
}
