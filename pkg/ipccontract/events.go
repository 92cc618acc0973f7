package ipccontract

import "encoding/json"

// TargetKind selects which listeners an emitted event reaches
type TargetKind string

const (
	TargetAny           TargetKind = "Any"
	TargetAnyLabel      TargetKind = "AnyLabel"
	TargetApp           TargetKind = "App"
	TargetWindow        TargetKind = "Window"
	TargetWebview       TargetKind = "Webview"
	TargetWebviewWindow TargetKind = "WebviewWindow"
)

// EventTarget scopes a listener or an emit. The zero value targets everything.
type EventTarget struct {
	Kind  TargetKind `json:"kind"`
	Label string     `json:"label,omitempty"`
}

// Event is delivered to a webview listener callback
type Event struct {
	Event   string          `json:"event"`
	ID      uint64          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventPayload represents an event notification forwarded to plugin queues
type EventPayload struct {
	EventType  string          `json:"eventType"`            // Event name (e.g., "file-changed")
	OccurredAt string          `json:"occurredAt"`           // RFC 3339 timestamp when the event was emitted
	Target     *EventTarget    `json:"target,omitempty"`     // Emit scope, nil for broadcast
	Data       json.RawMessage `json:"data,omitempty"`       // Event payload (optional)
}
