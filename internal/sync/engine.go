// Package sync routes inbound server frames into the reconciliation store
// and the outbox, decoupling the transport layer from state ingestion.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/clock"
	"github.com/relaychat/relay/internal/conn"
	"github.com/relaychat/relay/internal/dispatch"
	"github.com/relaychat/relay/internal/protocol"
	"github.com/relaychat/relay/internal/store"
	"go.uber.org/zap"
)

// typingSweepInterval is how often expired typing indicators are purged.
const typingSweepInterval = time.Second

// Conn is the slice of the connection manager the engine drives.
type Conn interface {
	PongReceived()
	AuthRejected(reason string)
}

// Acker is the slice of the outbox the engine drives.
type Acker interface {
	HandleAck(correlationID, serverID string, timestamp int64) bool
	Flush()
}

// Engine registers frame handlers and reacts to connection lifecycle
// events (flushing the outbox when the session reopens).
type Engine struct {
	store  *store.Store
	queue  Acker
	conn   Conn
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger

	cancel context.CancelFunc

	mu    sync.Mutex
	sweep clock.Timer
}

// NewEngine creates a sync engine.
func NewEngine(s *store.Store, queue Acker, c Conn, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Engine{
		store:  s,
		queue:  queue,
		conn:   c,
		bus:    b,
		clock:  clk,
		logger: logger,
	}
}

// Register installs a handler for every inbound frame type.
func (e *Engine) Register(d *dispatch.Dispatcher) {
	d.Register(protocol.TypeMessage, e.handleMessage)
	d.Register(protocol.TypeMessageSent, e.handleMessageSent)
	d.Register(protocol.TypeReceipt, e.handleReceipt)
	d.Register(protocol.TypeTyping, e.handleTyping)
	d.Register(protocol.TypePresence, e.handlePresence)
	d.Register(protocol.TypeAuthSuccess, e.handleAuthSuccess)
	d.Register(protocol.TypeAuthError, e.handleAuthError)
	d.Register(protocol.TypeError, e.handleError)
	d.Register(protocol.TypePong, e.handlePong)
}

// Start begins watching connection events and sweeping typing state.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("conn.", 64)
	e.armSweep(ctx)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleConnEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Lock()
	if e.sweep != nil {
		e.sweep.Stop()
	}
	e.mu.Unlock()
}

func (e *Engine) armSweep(ctx context.Context) {
	t := e.clock.AfterFunc(typingSweepInterval, func() {
		if ctx.Err() != nil {
			return
		}
		e.store.SweepTyping()
		e.armSweep(ctx)
	})
	e.mu.Lock()
	e.sweep = t
	e.mu.Unlock()
}

func (e *Engine) handleConnEvent(evt bus.Event) {
	if evt.Kind != bus.KindConnStateChanged {
		return
	}
	change, ok := evt.Payload.(conn.StateChange)
	if !ok {
		return
	}
	if change.To == conn.StateOpen {
		// Messages composed offline or lost in flight go out now.
		e.queue.Flush()
	}
}

func (e *Engine) handleMessage(data json.RawMessage) {
	var p protocol.InboundMessage
	if err := json.Unmarshal(data, &p); err != nil {
		e.logger.Warn("bad message payload", zap.Error(err))
		return
	}
	if p.ID == "" || p.ChatID == "" {
		e.logger.Warn("message payload missing id or chat_id")
		return
	}

	// An echo of our own optimistic send resolves through correlation, not
	// id reuse, so server-assigned ids never duplicate the local entry.
	if p.CorrelationID != "" && e.queue.HandleAck(p.CorrelationID, p.ID, p.Timestamp) {
		return
	}

	e.store.UpsertMessage(store.Message{
		ID:            p.ID,
		ChatID:        p.ChatID,
		SenderID:      p.SenderID,
		Content:       p.Content,
		Kind:          p.MessageType,
		Timestamp:     p.Timestamp,
		Status:        store.StatusSent,
		EditedAt:      p.EditedAt,
		CorrelationID: p.CorrelationID,
	})
}

func (e *Engine) handleMessageSent(data json.RawMessage) {
	var p protocol.MessageSent
	if err := json.Unmarshal(data, &p); err != nil {
		e.logger.Warn("bad message_sent payload", zap.Error(err))
		return
	}
	if !e.queue.HandleAck(p.CorrelationID, p.ServerID(), p.Timestamp) {
		e.logger.Debug("ack with no pending send", zap.String("correlation_id", p.CorrelationID))
	}
}

func (e *Engine) handleReceipt(data json.RawMessage) {
	var p protocol.Receipt
	if err := json.Unmarshal(data, &p); err != nil {
		e.logger.Warn("bad receipt payload", zap.Error(err))
		return
	}
	e.store.ApplyReceipt(store.Receipt{
		MessageID: p.MessageID,
		UserID:    p.UserID,
		Status:    store.Status(p.Status),
		Timestamp: p.Timestamp,
	})
}

func (e *Engine) handleTyping(data json.RawMessage) {
	var p protocol.Typing
	if err := json.Unmarshal(data, &p); err != nil {
		e.logger.Warn("bad typing payload", zap.Error(err))
		return
	}
	e.store.SetTyping(p.ChatID, p.UserID, p.IsTyping)
}

func (e *Engine) handlePresence(data json.RawMessage) {
	var p protocol.Presence
	if err := json.Unmarshal(data, &p); err != nil {
		e.logger.Warn("bad presence payload", zap.Error(err))
		return
	}
	e.store.SetPresence(store.Presence{
		UserID:       p.UserID,
		Status:       p.Presence.Status,
		LastActivity: p.Presence.LastActivity,
	})
}

func (e *Engine) handleAuthSuccess(data json.RawMessage) {
	var p protocol.AuthSuccess
	if err := json.Unmarshal(data, &p); err != nil {
		e.logger.Warn("bad auth_success payload", zap.Error(err))
		return
	}
	e.logger.Info("session authenticated", zap.String("user_id", p.UserID))
	e.store.SetCurrentUser(p.UserID)
}

func (e *Engine) handleAuthError(data json.RawMessage) {
	var p protocol.ErrorInfo
	_ = json.Unmarshal(data, &p)
	e.conn.AuthRejected(p.Error)
}

func (e *Engine) handleError(data json.RawMessage) {
	var p protocol.ErrorInfo
	_ = json.Unmarshal(data, &p)
	e.logger.Warn("server error frame", zap.String("error", p.Error))
}

func (e *Engine) handlePong(json.RawMessage) {
	e.conn.PongReceived()
}
