// Package protocol defines the wire format exchanged with gateway clients.
// Every client frame is a named event with an acknowledgement id; the gateway
// answers on that id with either a bare JSON string (an error message) or an
// arbitrary result object (success). That string-vs-object discrimination is
// the entire error-signalling contract at the wire level.
package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

const (
	// MaxFrameBytes caps the size of an inbound client frame.
	MaxFrameBytes = 16384

	// MaxEventNameChars caps the routed event name length.
	MaxEventNameChars = 64
)

// ValidateFrame checks an inbound frame against size and encoding limits
// before it is parsed.
func ValidateFrame(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("protocol: empty frame")
	}
	if len(data) > MaxFrameBytes {
		return fmt.Errorf("protocol: frame exceeds %d byte limit", MaxFrameBytes)
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("protocol: frame contains invalid UTF-8")
	}
	return nil
}

// Server -> client push event names. Push events carry no ack id and expect
// no response.
const (
	PushForceLogout     = "forceLogout"
	PushChangeTag       = "changeTag"
	PushChangeGroupName = "changeGroupName"
	PushDeleteGroup     = "deleteGroup"
	PushDeleteMessage   = "deleteMessage"
)

// ClientEvent is an inbound named event. Data is kept as raw JSON so the
// resolved handler can decode it into its own payload struct.
type ClientEvent struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// UnmarshalJSON implements json.Unmarshaler. It validates that the event name
// is present; a frame without one cannot be routed and is a protocol
// violation.
func (e *ClientEvent) UnmarshalJSON(data []byte) error {
	type alias ClientEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal event: %w", err)
	}
	if a.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	if utf8.RuneCountInString(a.Event) > MaxEventNameChars {
		return fmt.Errorf("protocol: event name exceeds %d character limit", MaxEventNameChars)
	}
	*e = ClientEvent(a)
	return nil
}

// ParseClientEvent parses raw WebSocket bytes into a ClientEvent.
func ParseClientEvent(data []byte) (*ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ack is the response envelope correlated to a client event by id.
type ack struct {
	ID   string      `json:"id"`
	Data interface{} `json:"data"`
}

// NewAck encodes a successful acknowledgement. The result may be any
// JSON-marshalable value; handlers return maps and structs, never bare
// strings (those are reserved for errors).
func NewAck(id string, result interface{}) ([]byte, error) {
	out, err := json.Marshal(ack{ID: id, Data: result})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal ack: %w", err)
	}
	return out, nil
}

// NewErrorAck encodes a rejection acknowledgement. The data field is a plain
// JSON string, which clients interpret as an error message.
func NewErrorAck(id string, message string) []byte {
	out, err := json.Marshal(ack{ID: id, Data: message})
	if err != nil {
		// A string and a string id cannot fail to marshal; keep the
		// signature simple for callers on the rejection path.
		panic(fmt.Sprintf("protocol: failed to marshal error ack: %v", err))
	}
	return out
}

// push is the envelope for server-originated events.
type push struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewPushEvent encodes a server-originated event for delivery to one or more
// connections.
func NewPushEvent(event string, payload interface{}) ([]byte, error) {
	out, err := json.Marshal(push{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal push event %q: %w", event, err)
	}
	return out, nil
}

// ForceLogoutPayload is the payload of the forceLogout push event, delivered
// to a connection just before the gateway closes it.
type ForceLogoutPayload struct {
	Reason string `json:"reason"`
}
