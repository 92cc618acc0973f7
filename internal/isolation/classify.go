package isolation

import (
	"encoding/json"
)

// Kind classifies a value crossing between the main frame and the isolation frame
type Kind int

const (
	// KindNone is anything the relay does not handle
	KindNone Kind = iota
	// KindPayload is a plaintext invocation travelling towards the isolation frame
	KindPayload
	// KindMessage is an encrypted invocation travelling back from the isolation frame
	KindMessage
	// KindRejection is an invocation the isolation frame refused to seal
	KindRejection
)

func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindMessage:
		return "message"
	case KindRejection:
		return "rejection"
	default:
		return "none"
	}
}

var messageKeys = map[string]bool{"contentType": true, "nonce": true, "payload": true}

// Classify inspects data. An object whose "payload" member is a non-empty
// object made only of contentType, nonce and payload keys is a message. Of
// the other objects carrying both callback and error members, those with a
// "rejection" object are rejections and the rest are payloads.
func Classify(data []byte) Kind {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return KindNone
	}

	if isMessage(obj) {
		return KindMessage
	}

	_, hasCallback := obj["callback"]
	_, hasError := obj["error"]
	if !hasCallback || !hasError {
		return KindNone
	}
	if raw, ok := obj["rejection"]; ok {
		var rejection map[string]json.RawMessage
		if json.Unmarshal(raw, &rejection) == nil && rejection != nil {
			return KindRejection
		}
	}
	return KindPayload
}

func isMessage(obj map[string]json.RawMessage) bool {
	raw, ok := obj["payload"]
	if !ok {
		return false
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil || len(inner) == 0 {
		return false
	}
	for key := range inner {
		if !messageKeys[key] {
			return false
		}
	}
	return true
}
