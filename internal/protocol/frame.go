// Package protocol defines the JSON frame envelope exchanged with the chat
// server and the closed set of frame types the core understands.
package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies a frame on the wire.
type FrameType string

// Client-originated frame types.
const (
	TypeSendMessage FrameType = "send_message"
	TypeJoinChat    FrameType = "join_chat"
	TypeLeaveChat   FrameType = "leave_chat"
	TypeTyping      FrameType = "typing"
	TypeMarkRead    FrameType = "mark_read"
	TypePing        FrameType = "ping"
)

// Server-originated frame types.
const (
	TypeMessage     FrameType = "message"
	TypeMessageSent FrameType = "message_sent"
	TypePresence    FrameType = "presence"
	TypeReceipt     FrameType = "receipt"
	TypeAuthSuccess FrameType = "auth_success"
	TypeAuthError   FrameType = "auth_error"
	TypeError       FrameType = "error"
	TypePong        FrameType = "pong"
)

// Frame is the wire envelope, both directions.
type Frame struct {
	Type  FrameType       `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Decode parses a raw frame. Fails if the bytes are not a JSON object or
// the type field is missing.
func Decode(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &f, nil
}

// Encode builds the wire bytes for a frame carrying the given payload.
// A nil payload produces a bare envelope (e.g. ping).
func Encode(t FrameType, payload any) ([]byte, error) {
	f := Frame{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		f.Data = data
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", t, err)
	}
	return raw, nil
}
