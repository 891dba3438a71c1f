package cache

import (
	"context"

	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/outbox"
	"github.com/relaychat/relay/internal/store"
	"go.uber.org/zap"
)

// Warm limits for a cold start. History beyond this is fetched from the
// server on demand.
const (
	warmChatLimit    = 200
	warmMessageLimit = 200
)

// Mirror writes store mutations through to the cache database and loads
// cached state back into the store on startup.
type Mirror struct {
	db     *DB
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewMirror creates a mirror between the in-memory store and the cache DB.
func NewMirror(db *DB, s *store.Store, b *bus.Bus, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{db: db, store: s, bus: b, logger: logger}
}

// Warm loads cached chats, messages and receipts into the store. Call it
// before Start so the warm load itself is not mirrored back to disk.
func (m *Mirror) Warm() error {
	chats, err := m.db.ListChats(warmChatLimit, 0)
	if err != nil {
		return err
	}
	for _, c := range chats {
		msgs, err := m.db.ListMessages(c.ID, 0, warmMessageLimit)
		if err != nil {
			return err
		}
		// ListMessages returns newest first.
		for i := len(msgs) - 1; i >= 0; i-- {
			m.store.UpsertMessage(msgs[i])
			receipts, err := m.db.ListReceipts(msgs[i].ID)
			if err != nil {
				return err
			}
			for _, r := range receipts {
				m.store.ApplyReceipt(r)
			}
		}
		// Persisted counters win over what the partial warm load derived.
		m.store.UpsertChat(c)
	}
	m.logger.Info("cache warmed", zap.Int("chats", len(chats)))
	return nil
}

// Start begins mirroring store events to the database.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.Subscribe("", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops mirroring.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Mirror) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageUpserted:
		ref, ok := evt.Payload.(store.MessageRef)
		if !ok {
			return
		}
		m.persistMessage(ref.MessageID)
	case bus.KindMessageSendAck:
		ack, ok := evt.Payload.(outbox.AckInfo)
		if !ok {
			return
		}
		// The optimistic row was rewritten to the server id.
		if ack.LocalID != ack.ServerID {
			if err := m.db.DeleteMessage(ack.LocalID); err != nil {
				m.logger.Warn("cache delete failed", zap.String("message_id", ack.LocalID), zap.Error(err))
			}
		}
		m.persistMessage(ack.ServerID)
	case bus.KindChatUpdated:
		chatID, ok := evt.Payload.(string)
		if !ok {
			return
		}
		chat, ok := m.store.GetChat(chatID)
		if !ok {
			return
		}
		if err := m.db.UpsertChat(&chat); err != nil {
			m.logger.Warn("cache chat write failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	case bus.KindReceiptApplied:
		r, ok := evt.Payload.(store.Receipt)
		if !ok {
			return
		}
		if err := m.db.UpsertReceipt(&r); err != nil {
			m.logger.Warn("cache receipt write failed", zap.String("message_id", r.MessageID), zap.Error(err))
		}
		// The receipt may have raised the message status.
		m.persistMessage(r.MessageID)
	}
}

func (m *Mirror) persistMessage(messageID string) {
	msg, ok := m.store.GetMessage(messageID)
	if !ok {
		return
	}
	if err := m.db.UpsertMessage(&msg); err != nil {
		m.logger.Warn("cache message write failed", zap.String("message_id", messageID), zap.Error(err))
	}
}
