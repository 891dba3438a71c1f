package cache

import "github.com/relaychat/relay/internal/store"

// UpsertReceipt inserts or updates a per-user receipt for a message.
func (db *DB) UpsertReceipt(r *store.Receipt) error {
	_, err := db.Exec(`
		INSERT INTO receipts (message_id, user_id, status, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, user_id) DO UPDATE SET
			status = excluded.status,
			timestamp = excluded.timestamp`,
		r.MessageID, r.UserID, r.Status, r.Timestamp)
	return err
}

// ListReceipts returns all receipts for a message.
func (db *DB) ListReceipts(messageID string) ([]store.Receipt, error) {
	rows, err := db.Query(`
		SELECT message_id, user_id, status, timestamp
		FROM receipts
		WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []store.Receipt
	for rows.Next() {
		var r store.Receipt
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Status, &r.Timestamp); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
