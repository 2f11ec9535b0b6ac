// Package protocol defines the JSON messages exchanged with remote sensing
// devices and HTTP callers.
// This package is designed to be importable without pulling in server dependencies.
package protocol

import (
	"encoding/json"
	"errors"
)

// WebSocket message types.
const (
	// Device -> agent
	TypeRegister    = "register"
	TypeFrame       = "frame"
	TypeScanError   = "scanError"
	TypePermissions = "permissions"
	TypeHeartbeat   = "heartbeat"

	// Agent -> device
	TypeRegistered = "registered"
	TypeStartScan  = "startScan"
	TypeStopScan   = "stopScan"
	TypeError      = "error"
)

// Scan error codes reported by devices.
const (
	ScanErrUnsupported      = "unsupported"
	ScanErrPermissionDenied = "permission-denied"
	ScanErrTransport        = "transport"
)

// ErrEmptyPayload is returned by Message.Decode when the message has no payload.
var ErrEmptyPayload = errors.New("message has no payload")

// Message is the envelope for every WebSocket message.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope of the given type.
func NewMessage(typ string, payload any) (Message, error) {
	msg := Message{Type: typ}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return ErrEmptyPayload
	}
	return json.Unmarshal(m.Payload, v)
}

// Response acknowledges a request carrying an ID.
type Response struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}
