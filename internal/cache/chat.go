package cache

import (
	"database/sql"
	"time"

	"github.com/relaychat/relay/internal/store"
)

// UpsertChat inserts or updates a chat record.
func (db *DB) UpsertChat(c *store.Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, name, type, last_message_at, message_count, last_read_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			last_message_at = excluded.last_message_at,
			message_count = excluded.message_count,
			last_read_at = excluded.last_read_at,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Type, c.LastMessageAt, c.MessageCount, c.LastReadAt, now)
	return err
}

// ListChats returns chats sorted by last message timestamp descending.
func (db *DB) ListChats(limit, offset int) ([]store.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, type, last_message_at, message_count, last_read_at
		FROM chats
		ORDER BY last_message_at DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []store.Chat
	for rows.Next() {
		var c store.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.LastMessageAt, &c.MessageCount, &c.LastReadAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil when absent.
func (db *DB) GetChat(id string) (*store.Chat, error) {
	var c store.Chat
	err := db.QueryRow(`
		SELECT id, name, type, last_message_at, message_count, last_read_at
		FROM chats
		WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Type, &c.LastMessageAt, &c.MessageCount, &c.LastReadAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
