package store

// Status is a message's delivery state. Pending and Failed are local-only
// states for optimistic sends; Sent, Delivered and Read mirror server
// receipts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// receiptRank orders the receipt-driven statuses. A message status only
// moves forward along this order, never back.
var receiptRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Rank returns the receipt-order rank of a status, or 0 for local states.
func (s Status) Rank() int {
	return receiptRank[s]
}

// Message is one chat message. Identity is ID, unique per chat.
// Timestamps are unix milliseconds.
type Message struct {
	ID            string
	ChatID        string
	SenderID      string
	Content       string
	Kind          string // text, image, file, audio, video, system, location
	Timestamp     int64
	Status        Status
	EditedAt      int64
	CorrelationID string
}

// Chat is one conversation. LastReadAt is the current user's read cursor,
// used by the unread-count view.
type Chat struct {
	ID            string
	Name          string
	Type          string // direct, group, channel
	LastMessageAt int64
	MessageCount  int
	LastReadAt    int64
}

// Receipt is a per-user delivery acknowledgment for a message.
// Last-write-wins per (MessageID, UserID).
type Receipt struct {
	MessageID string
	UserID    string
	Status    Status // sent, delivered, read
	Timestamp int64
}

// Presence is a user's availability. Last-write-wins per UserID by
// LastActivity.
type Presence struct {
	UserID       string
	Status       string // online, away, offline
	LastActivity int64
}
