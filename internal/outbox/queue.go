// Package outbox manages optimistic local sends: messages appear in the
// store immediately as Pending, then reconcile against server acks by
// correlation id, or surface as Failed for manual retry.
package outbox

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/clock"
	"github.com/relaychat/relay/internal/protocol"
	"github.com/relaychat/relay/internal/store"
	"go.uber.org/zap"
)

// FrameSender transmits frames over the live connection.
type FrameSender interface {
	SendFrame(t protocol.FrameType, payload any) error
}

type pendingSend struct {
	chatID  string
	localID string
}

// Queue correlates optimistic sends with server acknowledgments.
type Queue struct {
	store  *store.Store
	sender FrameSender
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingSend // correlationID -> optimistic entry
}

// NewQueue creates an outbound queue bound to the given store and sender.
func NewQueue(s *store.Store, sender FrameSender, b *bus.Bus, c clock.Clock, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.NewSystem()
	}
	return &Queue{
		store:   s,
		sender:  sender,
		bus:     b,
		clock:   c,
		logger:  logger,
		pending: make(map[string]pendingSend),
	}
}

// Send creates a Pending message visible immediately, then transmits a
// send_message frame. When the transport is down the message flips to
// Failed but stays in the chat for retry. Returns the local message id.
func (q *Queue) Send(chatID, content string) (string, error) {
	localID := uuid.NewString()
	correlationID := uuid.NewString()

	msg := store.Message{
		ID:            localID,
		ChatID:        chatID,
		SenderID:      q.store.CurrentUser(),
		Content:       content,
		Kind:          "text",
		Timestamp:     q.clock.Now().UnixMilli(),
		Status:        store.StatusPending,
		CorrelationID: correlationID,
	}
	q.store.UpsertMessage(msg)

	q.mu.Lock()
	q.pending[correlationID] = pendingSend{chatID: chatID, localID: localID}
	q.mu.Unlock()

	if err := q.transmit(chatID, content, correlationID); err != nil {
		q.markFailed(chatID, localID, err)
		return localID, err
	}
	return localID, nil
}

// Retry re-transmits a Failed message reusing its id, content and
// correlation id.
func (q *Queue) Retry(messageID string) error {
	msg, ok := q.store.GetMessage(messageID)
	if !ok {
		return fmt.Errorf("retry %s: message not found", messageID)
	}
	if msg.Status != store.StatusFailed && msg.Status != store.StatusPending {
		return fmt.Errorf("retry %s: status is %s, not retriable", messageID, msg.Status)
	}
	if msg.CorrelationID == "" {
		return fmt.Errorf("retry %s: not a locally originated message", messageID)
	}

	q.mu.Lock()
	q.pending[msg.CorrelationID] = pendingSend{chatID: msg.ChatID, localID: msg.ID}
	q.mu.Unlock()

	q.store.SetMessageStatus(msg.ChatID, msg.ID, store.StatusPending)
	if err := q.transmit(msg.ChatID, msg.Content, msg.CorrelationID); err != nil {
		q.markFailed(msg.ChatID, msg.ID, err)
		return err
	}
	return nil
}

// HandleAck resolves a server acknowledgment for a pending send. The
// optimistic entry takes the server-assigned id and becomes Sent. Unknown
// correlation ids are ignored (dup acks and acks for other devices).
func (q *Queue) HandleAck(correlationID, serverID string, timestamp int64) bool {
	if correlationID == "" {
		return false
	}
	q.mu.Lock()
	p, ok := q.pending[correlationID]
	if ok {
		delete(q.pending, correlationID)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}

	if serverID == "" {
		serverID = p.localID
	}
	q.store.ConfirmMessage(p.chatID, p.localID, serverID, timestamp)
	q.logger.Info("send acknowledged",
		zap.String("local_id", p.localID),
		zap.String("server_id", serverID),
	)
	q.publish(bus.KindMessageSendAck, AckInfo{
		ChatID:   p.chatID,
		LocalID:  p.localID,
		ServerID: serverID,
	})
	return true
}

// Flush re-transmits every unacknowledged send. Called after a reconnect so
// messages composed while offline (Failed) or lost in flight (Pending)
// reach the server.
func (q *Queue) Flush() {
	q.mu.Lock()
	entries := make(map[string]pendingSend, len(q.pending))
	for corr, p := range q.pending {
		entries[corr] = p
	}
	q.mu.Unlock()

	for corr, p := range entries {
		msg, ok := q.store.GetMessage(p.localID)
		if !ok {
			// Already confirmed under a server id; drop the record.
			q.mu.Lock()
			delete(q.pending, corr)
			q.mu.Unlock()
			continue
		}
		if msg.Status != store.StatusPending && msg.Status != store.StatusFailed {
			continue
		}
		if err := q.transmit(p.chatID, msg.Content, corr); err != nil {
			q.logger.Warn("flush transmit failed", zap.String("local_id", p.localID), zap.Error(err))
			continue
		}
		q.store.SetMessageStatus(p.chatID, p.localID, store.StatusPending)
	}
}

// PendingCount returns the number of unacknowledged sends.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// AckInfo is the payload of message.send_ack events.
type AckInfo struct {
	ChatID   string
	LocalID  string
	ServerID string
}

// FailureInfo is the payload of message.send_failed events.
type FailureInfo struct {
	ChatID    string
	MessageID string
	Reason    string
}

func (q *Queue) transmit(chatID, content, correlationID string) error {
	return q.sender.SendFrame(protocol.TypeSendMessage, protocol.SendMessage{
		ChatID:        chatID,
		Content:       content,
		MessageType:   "text",
		CorrelationID: correlationID,
	})
}

func (q *Queue) markFailed(chatID, localID string, cause error) {
	q.logger.Warn("send failed",
		zap.String("message_id", localID),
		zap.Error(cause),
	)
	q.store.SetMessageStatus(chatID, localID, store.StatusFailed)
	q.publish(bus.KindMessageSendFailed, FailureInfo{
		ChatID:    chatID,
		MessageID: localID,
		Reason:    cause.Error(),
	})
}

func (q *Queue) publish(kind string, payload any) {
	if q.bus != nil {
		q.bus.Publish(bus.New(kind, payload))
	}
}
