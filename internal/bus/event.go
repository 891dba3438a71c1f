package bus

import "time"

// Event kinds published by the sync core. Kinds are namespaced with a dot
// so subscribers can watch a whole prefix (e.g. "message.").
const (
	KindConnStateChanged = "conn.state_changed"
	KindConnLost         = "conn.lost"

	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindChatUpdated     = "chat.updated"
	KindReceiptApplied  = "receipt.applied"
	KindTypingChanged   = "typing.changed"
	KindPresenceUpdated = "presence.updated"

	KindAuthFailed = "session.auth_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// New builds an event stamped with the current time.
func New(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
