// Package client exposes the assembled sync core behind a small facade a
// front-end drives.
package client

import (
	"context"

	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/conn"
	"github.com/relaychat/relay/internal/outbox"
	"github.com/relaychat/relay/internal/protocol"
	"github.com/relaychat/relay/internal/store"
	"go.uber.org/zap"
)

// Client is the top-level handle for a chat session. All reads go through
// the store; all writes go through the connection and outbox.
type Client struct {
	conn   *conn.Manager
	store  *store.Store
	queue  *outbox.Queue
	bus    *bus.Bus
	logger *zap.Logger
}

// NewClient assembles the facade from its wired components.
func NewClient(c *conn.Manager, s *store.Store, q *outbox.Queue, b *bus.Bus, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{conn: c, store: s, queue: q, bus: b, logger: logger}
}

// Connect opens the session. Transport failures are retried internally;
// Connect only errors when credentials are missing or rejected.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Disconnect closes the session and suppresses reconnection.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// ConnState returns the current connection state.
func (c *Client) ConnState() conn.State {
	return c.conn.State()
}

// SendMessage queues a message for chatID and returns its local id. The
// message shows up in the store immediately with pending status.
func (c *Client) SendMessage(chatID, content string) (string, error) {
	return c.queue.Send(chatID, content)
}

// RetryMessage re-sends a previously failed message.
func (c *Client) RetryMessage(messageID string) error {
	return c.queue.Retry(messageID)
}

// JoinChat subscribes this session to a chat's events.
func (c *Client) JoinChat(chatID string) error {
	return c.conn.SendFrame(protocol.TypeJoinChat, protocol.JoinChat{ChatID: chatID})
}

// LeaveChat unsubscribes this session from a chat's events.
func (c *Client) LeaveChat(chatID string) error {
	return c.conn.SendFrame(protocol.TypeLeaveChat, protocol.JoinChat{ChatID: chatID})
}

// SetTyping reports the current user's typing activity in a chat.
func (c *Client) SetTyping(chatID string, isTyping bool) error {
	return c.conn.SendFrame(protocol.TypeTyping, protocol.Typing{ChatID: chatID, IsTyping: isTyping})
}

// MarkRead advances the local read cursor to messageID and reports it to
// the server. The local cursor moves even when the session is offline.
func (c *Client) MarkRead(chatID, messageID string) error {
	if msg, ok := c.store.GetMessage(messageID); ok {
		c.store.MarkRead(chatID, msg.Timestamp)
	}
	return c.conn.SendFrame(protocol.TypeMarkRead, protocol.MarkRead{MessageID: messageID})
}

// Store returns the reconciliation store for reads.
func (c *Client) Store() *store.Store {
	return c.store
}

// Bus returns the event bus for front-end subscriptions.
func (c *Client) Bus() *bus.Bus {
	return c.bus
}
