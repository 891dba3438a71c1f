package protocol

// SendMessage is the payload of a send_message frame.
type SendMessage struct {
	ChatID        string `json:"chat_id"`
	Content       string `json:"content"`
	MessageType   string `json:"message_type"`
	CorrelationID string `json:"correlation_id"`
}

// JoinChat is the payload of join_chat and leave_chat frames.
type JoinChat struct {
	ChatID string `json:"chat_id"`
}

// Typing is the payload of a typing frame, both directions. UserID is only
// set on inbound frames.
type Typing struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// MarkRead is the payload of a mark_read frame.
type MarkRead struct {
	MessageID string `json:"message_id"`
}

// InboundMessage is the payload of an authoritative message frame.
// Timestamps are unix milliseconds.
type InboundMessage struct {
	ID            string `json:"id"`
	ChatID        string `json:"chat_id"`
	SenderID      string `json:"sender_id"`
	Content       string `json:"content"`
	MessageType   string `json:"message_type"`
	Timestamp     int64  `json:"timestamp"`
	EditedAt      int64  `json:"edited_at,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// MessageSent is the payload of a message_sent acknowledgment. Some server
// builds send the assigned id as "id" rather than "message_id".
type MessageSent struct {
	CorrelationID string `json:"correlation_id"`
	MessageID     string `json:"message_id"`
	ID            string `json:"id,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// ServerID returns the server-assigned message id regardless of which
// field carried it.
func (m MessageSent) ServerID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.ID
}

// Receipt is the payload of a receipt frame. Status is one of
// sent, delivered, read.
type Receipt struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Presence is the payload of a presence frame.
type Presence struct {
	UserID   string       `json:"user_id"`
	Presence PresenceInfo `json:"presence"`
}

// PresenceInfo describes a user's presence. Status is one of
// online, away, offline.
type PresenceInfo struct {
	Status       string `json:"status"`
	LastActivity int64  `json:"last_activity"`
}

// AuthSuccess is the payload of an auth_success frame.
type AuthSuccess struct {
	UserID string `json:"user_id"`
}

// ErrorInfo is the payload of auth_error and error frames.
type ErrorInfo struct {
	Error string `json:"error"`
}
