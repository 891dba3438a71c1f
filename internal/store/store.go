// Package store holds the canonical client-side view of chats, messages,
// receipts, typing and presence. All mutation goes through its methods so
// inbound server events and optimistic local sends reconcile into one
// ordered, deduplicated state.
package store

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/clock"
	"go.uber.org/zap"
)

// DefaultTypingTTL is how long a typing indicator survives without a
// refresh. Covers the case where the stop event is lost.
const DefaultTypingTTL = 3 * time.Second

type receiptKey struct {
	messageID string
	userID    string
}

// Store is the reconciliation store. Methods are safe for concurrent use;
// each mutation is atomic with respect to the others.
type Store struct {
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger

	typingTTL time.Duration

	mu          sync.RWMutex
	currentUser string
	chats       map[string]*Chat
	messages    map[string][]*Message // chatID -> sorted by (timestamp, id)
	msgChat     map[string]string     // messageID -> chatID
	receipts    map[receiptKey]*Receipt
	typing      map[string]map[string]time.Time // chatID -> userID -> expiry
	presence    map[string]*Presence
}

// Option configures a Store.
type Option func(*Store)

// WithTypingTTL overrides the typing indicator lifetime.
func WithTypingTTL(ttl time.Duration) Option {
	return func(s *Store) { s.typingTTL = ttl }
}

// NewStore creates an empty store.
func NewStore(b *bus.Bus, c clock.Clock, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.NewSystem()
	}
	s := &Store{
		bus:       b,
		clock:     c,
		logger:    logger,
		typingTTL: DefaultTypingTTL,
		chats:     make(map[string]*Chat),
		messages:  make(map[string][]*Message),
		msgChat:   make(map[string]string),
		receipts:  make(map[receiptKey]*Receipt),
		typing:    make(map[string]map[string]time.Time),
		presence:  make(map[string]*Presence),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCurrentUser records the authenticated user, used by the unread view.
func (s *Store) SetCurrentUser(userID string) {
	s.mu.Lock()
	s.currentUser = userID
	s.mu.Unlock()
}

// CurrentUser returns the authenticated user id.
func (s *Store) CurrentUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser
}

// UpsertMessage inserts a message or replaces the entry with the same ID in
// place. The chat's list stays sorted ascending by (timestamp, id);
// LastMessageAt and MessageCount only change when the message is new.
func (s *Store) UpsertMessage(m Message) {
	s.mu.Lock()

	list := s.messages[m.ChatID]
	idx := slices.IndexFunc(list, func(e *Message) bool { return e.ID == m.ID })

	isNew := idx < 0
	if isNew {
		cp := m
		list = append(list, &cp)
	} else {
		// Edit or status change: replace in place, never duplicate.
		cp := m
		list[idx] = &cp
	}
	sortMessages(list)
	s.messages[m.ChatID] = list
	s.msgChat[m.ID] = m.ChatID

	chat := s.ensureChatLocked(m.ChatID)
	if isNew {
		chat.MessageCount++
		if m.Timestamp > chat.LastMessageAt {
			chat.LastMessageAt = m.Timestamp
		}
	}

	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, MessageRef{ChatID: m.ChatID, MessageID: m.ID})
	if isNew {
		s.publish(bus.KindChatUpdated, m.ChatID)
	}
}

// ConfirmMessage resolves an optimistic entry after the server ack: the
// local id is rewritten to the server-assigned one and the status becomes
// Sent. If the authoritative message already arrived under serverID, the
// optimistic duplicate is dropped instead.
func (s *Store) ConfirmMessage(chatID, localID, serverID string, timestamp int64) bool {
	s.mu.Lock()

	list := s.messages[chatID]
	localIdx := slices.IndexFunc(list, func(e *Message) bool { return e.ID == localID })
	if localIdx < 0 {
		s.mu.Unlock()
		return false
	}

	serverIdx := slices.IndexFunc(list, func(e *Message) bool { return e.ID == serverID })
	if serverIdx >= 0 && serverID != localID {
		// Server copy won the race; discard the optimistic entry.
		list = slices.Delete(list, localIdx, localIdx+1)
		s.messages[chatID] = list
		if chat := s.chats[chatID]; chat != nil && chat.MessageCount > 0 {
			chat.MessageCount--
		}
	} else {
		m := list[localIdx]
		m.ID = serverID
		m.Status = StatusSent
		if timestamp > 0 {
			m.Timestamp = timestamp
		}
		sortMessages(list)
	}
	delete(s.msgChat, localID)
	s.msgChat[serverID] = chatID

	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, MessageRef{ChatID: chatID, MessageID: serverID})
	return true
}

// SetMessageStatus updates a message's status without touching ordering
// metadata. Used by the outbox for the Failed transition.
func (s *Store) SetMessageStatus(chatID, messageID string, status Status) bool {
	s.mu.Lock()
	list := s.messages[chatID]
	idx := slices.IndexFunc(list, func(e *Message) bool { return e.ID == messageID })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	list[idx].Status = status
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, MessageRef{ChatID: chatID, MessageID: messageID})
	return true
}

// ApplyReceipt stores a receipt unless an equal-or-later one exists for the
// same (message, user), then raises the message's status if the receipt is
// strictly further along sent < delivered < read.
func (s *Store) ApplyReceipt(r Receipt) bool {
	s.mu.Lock()

	key := receiptKey{messageID: r.MessageID, userID: r.UserID}
	if existing, ok := s.receipts[key]; ok && existing.Timestamp >= r.Timestamp {
		s.mu.Unlock()
		return false
	}
	cp := r
	s.receipts[key] = &cp

	if chatID, ok := s.msgChat[r.MessageID]; ok {
		list := s.messages[chatID]
		idx := slices.IndexFunc(list, func(e *Message) bool { return e.ID == r.MessageID })
		if idx >= 0 && r.Status.Rank() > list[idx].Status.Rank() {
			list[idx].Status = r.Status
		}
	} else {
		s.logger.Debug("receipt for unknown message", zap.String("message_id", r.MessageID))
	}

	s.mu.Unlock()

	s.publish(bus.KindReceiptApplied, r)
	return true
}

// Receipts returns the receipts recorded for a message.
func (s *Store) Receipts(messageID string) []Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Receipt
	for key, r := range s.receipts {
		if key.messageID == messageID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SetTyping inserts or refreshes a typing indicator (isTyping=true) or
// removes it immediately (isTyping=false).
func (s *Store) SetTyping(chatID, userID string, isTyping bool) {
	s.mu.Lock()
	users := s.typing[chatID]
	if isTyping {
		if users == nil {
			users = make(map[string]time.Time)
			s.typing[chatID] = users
		}
		users[userID] = s.clock.Now().Add(s.typingTTL)
	} else if users != nil {
		delete(users, userID)
	}
	s.mu.Unlock()

	s.publish(bus.KindTypingChanged, chatID)
}

// TypingUsers returns the users currently typing in a chat. Expired entries
// are skipped even if no stop event ever arrived.
func (s *Store) TypingUsers(chatID string) []string {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for userID, expiry := range s.typing[chatID] {
		if expiry.After(now) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// SweepTyping drops all expired typing entries. Called periodically so
// lost stop events do not accumulate state.
func (s *Store) SweepTyping() {
	now := s.clock.Now()
	var changed []string

	s.mu.Lock()
	for chatID, users := range s.typing {
		for userID, expiry := range users {
			if !expiry.After(now) {
				delete(users, userID)
				changed = append(changed, chatID)
			}
		}
		if len(users) == 0 {
			delete(s.typing, chatID)
		}
	}
	s.mu.Unlock()

	for _, chatID := range changed {
		s.publish(bus.KindTypingChanged, chatID)
	}
}

// SetPresence applies a presence update, last-write-wins by LastActivity.
func (s *Store) SetPresence(p Presence) bool {
	s.mu.Lock()
	existing, ok := s.presence[p.UserID]
	if ok && existing.LastActivity >= p.LastActivity {
		s.mu.Unlock()
		return false
	}
	cp := p
	s.presence[p.UserID] = &cp
	s.mu.Unlock()

	s.publish(bus.KindPresenceUpdated, p)
	return true
}

// GetPresence returns a user's presence, if known.
func (s *Store) GetPresence(userID string) (Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	if !ok {
		return Presence{}, false
	}
	return *p, true
}

// UpsertChat inserts or updates chat metadata. Message ordering fields are
// preserved if the incoming record does not move them forward.
func (s *Store) UpsertChat(c Chat) {
	s.mu.Lock()
	chat := s.ensureChatLocked(c.ID)
	if c.Name != "" {
		chat.Name = c.Name
	}
	if c.Type != "" {
		chat.Type = c.Type
	}
	if c.LastMessageAt > chat.LastMessageAt {
		chat.LastMessageAt = c.LastMessageAt
	}
	if c.MessageCount > chat.MessageCount {
		chat.MessageCount = c.MessageCount
	}
	if c.LastReadAt > chat.LastReadAt {
		chat.LastReadAt = c.LastReadAt
	}
	s.mu.Unlock()

	s.publish(bus.KindChatUpdated, c.ID)
}

// MarkRead advances the current user's read cursor for a chat.
func (s *Store) MarkRead(chatID string, readAt int64) {
	s.mu.Lock()
	chat := s.ensureChatLocked(chatID)
	if readAt > chat.LastReadAt {
		chat.LastReadAt = readAt
	}
	s.mu.Unlock()

	s.publish(bus.KindChatUpdated, chatID)
}

// Chats returns all chats sorted by last activity descending.
func (s *Store) Chats() []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetChat returns a chat by id.
func (s *Store) GetChat(chatID string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return Chat{}, false
	}
	return *c, true
}

// Messages returns a chat's messages, ascending by (timestamp, id).
func (s *Store) Messages(chatID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[chatID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// GetMessage looks a message up by id.
func (s *Store) GetMessage(messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chatID, ok := s.msgChat[messageID]
	if !ok {
		return Message{}, false
	}
	list := s.messages[chatID]
	idx := slices.IndexFunc(list, func(e *Message) bool { return e.ID == messageID })
	if idx < 0 {
		return Message{}, false
	}
	return *list[idx], true
}

// UnreadCount counts messages newer than the read cursor that were not sent
// by the current user.
func (s *Store) UnreadCount(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range s.messages[chatID] {
		if m.Timestamp > chat.LastReadAt && m.SenderID != s.currentUser {
			n++
		}
	}
	return n
}

// MessageRef identifies a message in bus payloads.
type MessageRef struct {
	ChatID    string
	MessageID string
}

func (s *Store) ensureChatLocked(chatID string) *Chat {
	chat, ok := s.chats[chatID]
	if !ok {
		chat = &Chat{ID: chatID}
		s.chats[chatID] = chat
	}
	return chat
}

func (s *Store) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(bus.New(kind, payload))
	}
}

// sortMessages keeps a chat's list ascending by (timestamp, id) so renders
// are stable regardless of delivery order.
func sortMessages(list []*Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp < list[j].Timestamp
		}
		return list[i].ID < list[j].ID
	})
}
