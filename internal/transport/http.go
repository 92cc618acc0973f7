package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// maxResponseBytes bounds how much of an IPC response body is read
const maxResponseBytes = 64 << 20

// HTTPClient is the subset of *http.Client used by the HTTP transport
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTP posts envelopes to the IPC protocol endpoint and routes the response
// to the callback or error identifier named in the envelope.
type HTTP struct {
	baseURL   string
	client    HTTPClient
	sink      Sink
	invokeKey string
	window    string
	origin    string
	inflight  sync.WaitGroup
}

// HTTPOption configures the HTTP transport
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c HTTPClient) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithInvokeKey sets the invoke key sent with every request
func WithInvokeKey(key string) HTTPOption {
	return func(h *HTTP) { h.invokeKey = key }
}

// WithWindowLabel sets the calling window label
func WithWindowLabel(label string) HTTPOption {
	return func(h *HTTP) { h.window = label }
}

// WithOrigin sets the Origin header
func WithOrigin(origin string) HTTPOption {
	return func(h *HTTP) { h.origin = origin }
}

// NewHTTP creates an HTTP transport delivering results to sink
func NewHTTP(baseURL string, sink Sink, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		sink:    sink,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send starts the request in the background. Failures after this point are
// delivered to the envelope's error identifier so the caller still settles.
func (h *HTTP) Send(ctx context.Context, env ipccontract.Envelope) error {
	if h.baseURL == "" {
		return bridgeerr.New(bridgeerr.CodeTransportUnavailable, "ipc endpoint not configured")
	}

	req, err := h.newRequest(ctx, env)
	if err != nil {
		return err
	}

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		id, payload := h.roundTrip(req, env)
		h.sink.Deliver(id, payload)
	}()
	return nil
}

// Wait blocks until every in-flight request has delivered its result
func (h *HTTP) Wait() {
	h.inflight.Wait()
}

func (h *HTTP) newRequest(ctx context.Context, env ipccontract.Envelope) (*http.Request, error) {
	body := env.Args
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	target := h.baseURL + "/" + url.PathEscape(ipccontract.FormatCommand(env.Module, env.Cmd))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeTransportUnavailable, "failed to build ipc request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ipccontract.HeaderCallback, string(env.Callback))
	req.Header.Set(ipccontract.HeaderError, string(env.Error))
	if h.invokeKey != "" {
		req.Header.Set(ipccontract.HeaderInvokeKey, h.invokeKey)
	}
	if h.window != "" {
		req.Header.Set(ipccontract.HeaderWindowLabel, h.window)
	}
	if h.origin != "" {
		req.Header.Set("Origin", h.origin)
	}
	return req, nil
}

// roundTrip performs the request and decides which identifier receives the result
func (h *HTTP) roundTrip(req *http.Request, env ipccontract.Envelope) (ipccontract.CallbackID, json.RawMessage) {
	resp, err := h.client.Do(req)
	if err != nil {
		return env.Error, errorJSON(bridgeerr.CodeTransportUnavailable, fmt.Sprintf("ipc request failed: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return env.Error, errorJSON(bridgeerr.CodeTransportUnavailable, fmt.Sprintf("failed to read ipc response: %v", err))
	}

	switch resp.Header.Get(ipccontract.HeaderResponse) {
	case ipccontract.ResponseOK:
		if len(data) == 0 {
			data = []byte("null")
		}
		return env.Callback, data
	case ipccontract.ResponseError:
		return env.Error, data
	}

	// Protocol-level rejections (bad key, malformed request) carry no response header
	return env.Error, errorJSON(bridgeerr.CodeTransportUnavailable,
		fmt.Sprintf("ipc endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
}

func errorJSON(code bridgeerr.Code, message string) json.RawMessage {
	data, _ := json.Marshal(ipccontract.ErrorPayload{Message: message, Code: string(code)})
	return data
}
