// Package event implements named publish/subscribe on top of the invocation
// client. Listeners live on the native side; the calling side registers a
// repeatable callback per subscription and asks the native side to route
// matching events to it.
package event

import (
	"fmt"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Module is the module tag of the native event plugin
const Module = ipccontract.PluginPrefix + "event"

// Native event plugin commands
const (
	CommandListen   = "listen"
	CommandUnlisten = "unlisten"
	CommandEmit     = "emit"
	CommandEmitTo   = "emit_to"
)

// ValidateName checks that an event name is non-empty and only uses
// alphanumeric characters, '-', '/', ':' and '_'.
func ValidateName(name string) error {
	if name == "" {
		return bridgeerr.New(bridgeerr.CodeInvalidArguments, "event name is required")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '/', r == ':', r == '_':
		default:
			return bridgeerr.New(bridgeerr.CodeInvalidArguments,
				fmt.Sprintf("event name %q must include only alphanumeric characters, '-', '/', ':' and '_'", name))
		}
	}
	return nil
}

// AnyTarget matches every listener
func AnyTarget() ipccontract.EventTarget {
	return ipccontract.EventTarget{Kind: ipccontract.TargetAny}
}

// LabelTarget matches any window or webview with label
func LabelTarget(label string) ipccontract.EventTarget {
	return ipccontract.EventTarget{Kind: ipccontract.TargetAnyLabel, Label: label}
}

// Matches reports whether an event emitted to emit reaches a listener that
// registered for listen. An Any target on either side matches everything.
func Matches(listen, emit ipccontract.EventTarget) bool {
	if isAny(listen) || isAny(emit) {
		return true
	}
	if listen.Kind == ipccontract.TargetApp || emit.Kind == ipccontract.TargetApp {
		return listen.Kind == emit.Kind
	}
	if listen.Label != emit.Label {
		return false
	}
	return listen.Kind == ipccontract.TargetAnyLabel ||
		emit.Kind == ipccontract.TargetAnyLabel ||
		listen.Kind == emit.Kind
}

func isAny(t ipccontract.EventTarget) bool {
	return t.Kind == "" || t.Kind == ipccontract.TargetAny
}
