package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// minJSONParseLen is the size above which objects and arrays are embedded
// through JSON.parse, which webviews parse faster than object literals.
const minJSONParseLen = 10240

var jsStringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

// FormatCallback renders a script that calls the window function registered
// for id with payload, warning when the function no longer exists.
func FormatCallback(id ipccontract.CallbackID, payload json.RawMessage) (string, error) {
	if !validCallbackID(id) {
		return "", fmt.Errorf("invalid callback id %q", id)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("callback payload for %s is not valid JSON", id)
	}

	arg := string(payload)
	if len(arg) > minJSONParseLen && (arg[0] == '{' || arg[0] == '[') {
		arg = "JSON.parse('" + jsStringEscaper.Replace(arg) + "')"
	}

	return fmt.Sprintf(`
    if (window["_%[1]s"]) {
      window["_%[1]s"](%[2]s)
    } else {
      console.warn("[IPC] Couldn't find callback id %[1]s in window. This happens when the app is reloaded while the host is running an asynchronous operation.")
    }`, id, arg), nil
}

// FormatResult renders the script for whichever callback result settles
func FormatResult(result ipccontract.Result, callbackID, errorID ipccontract.CallbackID) (string, error) {
	if result.IsErr() {
		raw, err := json.Marshal(result.Err)
		if err != nil {
			return "", fmt.Errorf("failed to serialize error: %w", err)
		}
		return FormatCallback(errorID, raw)
	}
	return FormatCallback(callbackID, result.Value)
}

// validCallbackID restricts identifiers to characters that are safe inside
// a quoted property name.
func validCallbackID(id ipccontract.CallbackID) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
