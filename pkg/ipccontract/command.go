package ipccontract

import (
	"fmt"
	"strings"
)

// PluginPrefix marks a module tag that names a plugin rather than a core module
const PluginPrefix = "plugin:"

// AppModule is the core module that owns bare application commands
const AppModule = "App"

// HTTP protocol headers
const (
	HeaderCallback    = "Tauri-Callback"
	HeaderError       = "Tauri-Error"
	HeaderInvokeKey   = "Tauri-Invoke-Key"
	HeaderResponse    = "Tauri-Response"
	HeaderWindowLabel = "Tauri-Window-Label"
)

// Tauri-Response header values
const (
	ResponseOK    = "ok"
	ResponseError = "error"
)

// ParseCommand splits a combined command string into a module tag and a
// command name:
//
//	plugin:fs|read_file -> ("plugin:fs", "read_file")
//	Window|close        -> ("Window", "close")
//	login               -> ("App", "login")
func ParseCommand(s string) (module, command string, err error) {
	if s == "" {
		return "", "", fmt.Errorf("command is empty")
	}
	idx := strings.Index(s, "|")
	if idx < 0 {
		if strings.HasPrefix(s, PluginPrefix) {
			return "", "", fmt.Errorf("plugin command %q is missing a method name", s)
		}
		return AppModule, s, nil
	}
	module, command = s[:idx], s[idx+1:]
	if module == "" || module == PluginPrefix {
		return "", "", fmt.Errorf("command %q has an empty module", s)
	}
	if command == "" {
		return "", "", fmt.Errorf("command %q has an empty method name", s)
	}
	return module, command, nil
}

// FormatCommand is the inverse of ParseCommand
func FormatCommand(module, command string) string {
	if module == "" || module == AppModule {
		return command
	}
	return module + "|" + command
}

// PluginName returns the plugin name for a plugin module tag and whether the tag names a plugin
func PluginName(module string) (string, bool) {
	if !strings.HasPrefix(module, PluginPrefix) {
		return "", false
	}
	return strings.TrimPrefix(module, PluginPrefix), true
}
