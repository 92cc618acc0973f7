// Package channel streams ordered messages from a native command back to the
// calling side over a repeatable callback.
package channel

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/callback"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// RefPrefix marks a string argument that refers to a channel
const RefPrefix = "__CHANNEL__:"

// Message is one item on a channel. Index starts at zero and increases by one per message.
type Message struct {
	Message json.RawMessage `json:"message"`
	Index   uint64          `json:"id"`
}

// Ref returns the argument form of a channel identifier
func Ref(id ipccontract.CallbackID) string {
	return RefPrefix + string(id)
}

// ParseRef extracts the callback identifier from a channel argument
func ParseRef(v any) (ipccontract.CallbackID, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("channel reference must be a string, got %T", v)
	}
	id, ok := strings.CutPrefix(s, RefPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("invalid channel reference %q", s)
	}
	return ipccontract.CallbackID(id), nil
}

// Channel receives messages on the calling side and hands them to the
// handler in index order, buffering any that arrive early.
type Channel struct {
	registry *callback.Registry
	id       callback.ID
	handler  func(json.RawMessage)

	mu      sync.Mutex
	next    uint64
	pending map[uint64]json.RawMessage
}

// New registers a channel whose messages are passed to handler
func New(registry *callback.Registry, handler func(json.RawMessage)) (*Channel, error) {
	if handler == nil {
		return nil, bridgeerr.New(bridgeerr.CodeInvalidArguments, "channel handler is nil")
	}
	c := &Channel{
		registry: registry,
		handler:  handler,
		pending:  make(map[uint64]json.RawMessage),
	}
	id, err := registry.Register(c.receive, false)
	if err != nil {
		return nil, err
	}
	c.id = id
	return c, nil
}

// ID returns the callback identifier of the channel
func (c *Channel) ID() callback.ID {
	return c.id
}

// MarshalJSON encodes the channel as its reference string so it can be passed as an argument
func (c *Channel) MarshalJSON() ([]byte, error) {
	return json.Marshal(Ref(c.id))
}

// Close stops delivery
func (c *Channel) Close() {
	c.registry.Remove(c.id)
}

// receive runs for every delivery. The handler is called under the channel
// lock so concurrent deliveries cannot reorder messages.
func (c *Channel) receive(payload json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Index < c.next {
		return
	}
	if msg.Index > c.next {
		c.pending[msg.Index] = msg.Message
		return
	}

	c.handler(msg.Message)
	c.next++
	for {
		buffered, ok := c.pending[c.next]
		if !ok {
			return
		}
		delete(c.pending, c.next)
		c.handler(buffered)
		c.next++
	}
}

// Sender writes messages to a channel from the native side
type Sender struct {
	id   ipccontract.CallbackID
	sink transport.Sink

	mu   sync.Mutex
	next uint64
}

// NewSender creates a sender for the channel with identifier id
func NewSender(id ipccontract.CallbackID, sink transport.Sink) *Sender {
	return &Sender{id: id, sink: sink}
}

// ID returns the channel identifier
func (s *Sender) ID() ipccontract.CallbackID {
	return s.id
}

// Send delivers v as the next message. It fails once the receiving side has closed the channel.
func (s *Sender) Send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "channel message is not serializable", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(Message{Message: raw, Index: s.next})
	if err != nil {
		return fmt.Errorf("failed to encode channel message: %w", err)
	}
	if !s.sink.Deliver(s.id, payload) {
		return bridgeerr.New(bridgeerr.CodeBridgeClosed, fmt.Sprintf("channel %s is closed", s.id))
	}
	s.next++
	return nil
}
