package cache

import (
	"time"

	"github.com/relaychat/relay/internal/store"
)

// UpsertMessage inserts or updates a message (idempotent on id).
func (db *DB) UpsertMessage(m *store.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, sender_id, content, message_type, timestamp, status, edited_at, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status,
			edited_at = excluded.edited_at`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.Kind, m.Timestamp, m.Status, m.EditedAt, m.CorrelationID, now)
	return err
}

// DeleteMessage removes a message by id. Used when an optimistic local id
// is rewritten to the server-assigned one.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// ListMessages returns messages for a chat using keyset pagination by timestamp.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, sender_id, content, message_type, timestamp, status, edited_at, correlation_id
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Kind, &m.Timestamp, &m.Status, &m.EditedAt, &m.CorrelationID); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
