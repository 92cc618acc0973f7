// Package protocol serves the IPC endpoints a webview talks to: a custom
// protocol style POST per command whose response carries the result, and a
// postMessage style endpoint whose results come back as callback scripts.
package protocol

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/dispatcher"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/tracing"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// MessagePath is the postMessage style endpoint
const MessagePath = "/__ipc_message"

// ScriptsPath is where a window polls for queued callback scripts
const ScriptsPath = "/__ipc_scripts/{window}"

// DefaultWindow labels requests that do not name their window
const DefaultWindow = "main"

const maxBodyBytes = 64 << 20

// Submitter queues a message for dispatch
type Submitter interface {
	Submit(ctx context.Context, msg dispatcher.Message, sink transport.Sink) error
}

// Config holds configuration for the protocol handler
type Config struct {
	Dispatch Submitter
	// InvokeKey, when set, must accompany every request
	InvokeKey string
	// LocalOrigins are Origin header values treated as application content
	LocalOrigins []string
	// Scripts receives callback scripts for postMessage requests and for
	// out-of-band deliveries such as events and channel messages
	Scripts *ScriptBuffer
	// ResponseTimeout bounds how long a custom protocol request waits
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

// Handler routes IPC requests
type Handler struct {
	cfg    Config
	router *mux.Router
}

// New creates a protocol handler
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scripts == nil {
		cfg.Scripts = NewScriptBuffer(DefaultMaxScripts, DefaultMaxWindows)
	}

	h := &Handler{cfg: cfg, router: mux.NewRouter()}
	h.router.HandleFunc(MessagePath, h.handleMessage).Methods(http.MethodPost)
	h.router.HandleFunc(ScriptsPath, h.handleScripts).Methods(http.MethodGet)
	h.router.HandleFunc("/{cmd}", h.handleInvoke).Methods(http.MethodPost)
	h.router.PathPrefix("/").HandlerFunc(h.handlePreflight).Methods(http.MethodOptions)
	h.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", ipccontract.HeaderResponse)
	h.router.ServeHTTP(w, r)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "only POST and OPTIONS are allowed", http.StatusMethodNotAllowed)
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.WriteHeader(http.StatusOK)
}

// origin derives the invocation origin from request headers
func (h *Handler) origin(r *http.Request) plugin.Origin {
	window := r.Header.Get(ipccontract.HeaderWindowLabel)
	if window == "" {
		window = DefaultWindow
	}
	o := plugin.Origin{Window: window}
	if from := r.Header.Get("Origin"); from != "" && !slices.Contains(h.cfg.LocalOrigins, from) {
		o.URL = from
	}
	return o
}

// checkInvokeKey compares in constant time
func (h *Handler) checkInvokeKey(key string) error {
	if h.cfg.InvokeKey == "" {
		return nil
	}
	if key == "" {
		return errMissingInvokeKey
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.InvokeKey)) != 1 {
		return errBadInvokeKey
	}
	return nil
}

var (
	errMissingInvokeKey = errors.New("missing " + ipccontract.HeaderInvokeKey + " header")
	errBadInvokeKey     = errors.New("invalid invoke key")
)

func keyStatus(err error) int {
	if errors.Is(err, errBadInvokeKey) {
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}

// handleInvoke serves POST /{cmd}. The result is written as the response
// body with a Tauri-Response header naming which callback it settles.
func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartHandlerSpan(r.Context(), "HTTPInvoke")
	defer span.End()

	if err := h.checkInvokeKey(r.Header.Get(ipccontract.HeaderInvokeKey)); err != nil {
		h.cfg.Logger.WarnContext(ctx, "Rejected IPC request",
			slog.String("error", err.Error()),
		)
		http.Error(w, err.Error(), keyStatus(err))
		return
	}

	module, command, err := ipccontract.ParseCommand(mux.Vars(r)["cmd"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	callbackID := ipccontract.CallbackID(r.Header.Get(ipccontract.HeaderCallback))
	errorID := ipccontract.CallbackID(r.Header.Get(ipccontract.HeaderError))
	if callbackID == "" {
		http.Error(w, "missing "+ipccontract.HeaderCallback+" header", http.StatusBadRequest)
		return
	}
	if errorID == "" {
		http.Error(w, "missing "+ipccontract.HeaderError+" header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		http.Error(w, "request body is not valid JSON", http.StatusBadRequest)
		return
	}

	origin := h.origin(r)
	span.SetAttributes(tracing.Module(module), tracing.Command(command), tracing.Window(origin.Window))

	sink := newResponseSink(callbackID, errorID, ScriptSink{Window: origin.Window, Eval: h.cfg.Scripts})
	msg := dispatcher.Message{
		Envelope: ipccontract.Envelope{
			Cmd:      command,
			Module:   module,
			Callback: callbackID,
			Error:    errorID,
			Args:     body,
		},
		Origin: origin,
	}
	if err := h.cfg.Dispatch.Submit(ctx, msg, sink); err != nil {
		tracing.RecordError(span, err)
		writeResult(w, ipccontract.Fail(bridgeerr.ToPayload(err)))
		return
	}

	waitCtx := ctx
	if h.cfg.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.cfg.ResponseTimeout)
		defer cancel()
	}

	select {
	case result := <-sink.result:
		writeResult(w, result)
	case <-waitCtx.Done():
		if r.Context().Err() != nil {
			return
		}
		writeResult(w, ipccontract.Fail(ipccontract.ErrorPayload{
			Message: fmt.Sprintf("command %s did not respond within %s", ipccontract.FormatCommand(module, command), h.cfg.ResponseTimeout),
			Code:    string(bridgeerr.CodeNoResponse),
		}))
	}
}

func writeResult(w http.ResponseWriter, result ipccontract.Result) {
	w.Header().Set("Content-Type", "application/json")
	if result.IsErr() {
		w.Header().Set(ipccontract.HeaderResponse, ipccontract.ResponseError)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(result.Err)
		return
	}
	w.Header().Set(ipccontract.HeaderResponse, ipccontract.ResponseOK)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Value)
}

// postMessage is the body of a postMessage style request
type postMessage struct {
	Cmd       string                 `json:"cmd"`
	Callback  ipccontract.CallbackID `json:"callback"`
	Error     ipccontract.CallbackID `json:"error"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	InvokeKey string                 `json:"__TAURI_INVOKE_KEY__"`
}

// handleMessage serves POST /__ipc_message. The request is accepted as soon
// as it is queued; the result is delivered as a callback script.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartHandlerSpan(r.Context(), "PostMessage")
	defer span.End()

	var msg postMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		http.Error(w, "malformed ipc message: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.checkInvokeKey(msg.InvokeKey); err != nil {
		h.cfg.Logger.WarnContext(ctx, "Rejected IPC message",
			slog.String("error", err.Error()),
		)
		http.Error(w, err.Error(), keyStatus(err))
		return
	}
	if !validCallbackID(msg.Callback) || !validCallbackID(msg.Error) {
		http.Error(w, "invalid callback identifiers", http.StatusBadRequest)
		return
	}

	origin := h.origin(r)
	sink := ScriptSink{Window: origin.Window, Eval: h.cfg.Scripts}

	module, command, err := ipccontract.ParseCommand(msg.Cmd)
	if err != nil {
		if !sink.Deliver(msg.Error, errorPayload(bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, err.Error(), err))) {
			http.Error(w, "script queue unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	span.SetAttributes(tracing.Module(module), tracing.Command(command), tracing.Window(origin.Window))

	err = h.cfg.Dispatch.Submit(ctx, dispatcher.Message{
		Envelope: ipccontract.Envelope{
			Cmd:      command,
			Module:   module,
			Callback: msg.Callback,
			Error:    msg.Error,
			Args:     msg.Payload,
		},
		Origin: origin,
	}, sink)
	if err != nil {
		tracing.RecordError(span, err)
		if !sink.Deliver(msg.Error, errorPayload(err)) {
			http.Error(w, "script queue unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleScripts drains the scripts queued for a window as a JSON array
func (h *Handler) handleScripts(w http.ResponseWriter, r *http.Request) {
	if err := h.checkInvokeKey(r.Header.Get(ipccontract.HeaderInvokeKey)); err != nil {
		http.Error(w, err.Error(), keyStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.cfg.Scripts.Drain(mux.Vars(r)["window"]))
}

func errorPayload(err error) json.RawMessage {
	data, _ := json.Marshal(bridgeerr.ToPayload(err))
	return data
}

// responseSink captures the result for one custom protocol request and
// forwards every other delivery to fallback.
type responseSink struct {
	callbackID ipccontract.CallbackID
	errorID    ipccontract.CallbackID
	fallback   transport.Sink
	once       sync.Once
	result     chan ipccontract.Result
}

func newResponseSink(callbackID, errorID ipccontract.CallbackID, fallback transport.Sink) *responseSink {
	return &responseSink{
		callbackID: callbackID,
		errorID:    errorID,
		fallback:   fallback,
		result:     make(chan ipccontract.Result, 1),
	}
}

// Deliver implements transport.Sink
func (s *responseSink) Deliver(id ipccontract.CallbackID, payload json.RawMessage) bool {
	var result ipccontract.Result
	switch id {
	case s.callbackID:
		result = ipccontract.Ok(payload)
	case s.errorID:
		result = ipccontract.Fail(bridgeerr.ToPayload(bridgeerr.DecodePayload(payload)))
	default:
		return s.fallback.Deliver(id, payload)
	}

	delivered := false
	s.once.Do(func() {
		s.result <- result
		delivered = true
	})
	return delivered
}
