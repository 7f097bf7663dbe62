package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on trade_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO trade_messages (trade_id, msg_id, sender_id, body, message_type, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status`,
		m.TradeID, m.MsgID, m.SenderID, m.Body, m.MessageType, m.Status, m.Timestamp, now)
	return err
}

// ListMessages returns all messages for a trade, ascending by timestamp with
// insertion id as the tie-break.
func (db *DB) ListMessages(tradeID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, trade_id, msg_id, sender_id, body, message_type, status, timestamp
		FROM trade_messages
		WHERE trade_id = ?
		ORDER BY timestamp ASC, id ASC`, tradeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TradeID, &m.MsgID, &m.SenderID, &m.Body, &m.MessageType, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// PromoteMessage rekeys an optimistic 'sending' row to its server-assigned
// id and marks it sent. If the server copy already arrived through a
// re-fetch, the optimistic row is dropped instead so the message appears
// exactly once.
func (db *DB) PromoteMessage(tradeID, clientMsgID, serverMsgID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM trade_messages WHERE trade_id = ? AND msg_id = ?`,
		tradeID, serverMsgID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		if _, err := tx.Exec(`DELETE FROM trade_messages WHERE trade_id = ? AND msg_id = ?`,
			tradeID, clientMsgID); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`UPDATE trade_messages SET msg_id = ?, status = 'sent' WHERE trade_id = ? AND msg_id = ?`,
			serverMsgID, tradeID, clientMsgID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkMessageFailed flips an optimistic row to 'failed'.
func (db *DB) MarkMessageFailed(tradeID, clientMsgID string) error {
	_, err := db.Exec(`UPDATE trade_messages SET status = 'failed' WHERE trade_id = ? AND msg_id = ?`,
		tradeID, clientMsgID)
	return err
}

// ReplaceMessages replaces the cached message list for a trade with the
// authoritative list from the backend. Rows in 'sending' or 'failed' status
// are kept: they are optimistic local writes the backend does not know
// about, and a failed send must stay visible until the user deals with it.
func (db *DB) ReplaceMessages(tradeID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM trade_messages WHERE trade_id = ? AND status NOT IN ('sending', 'failed')`, tradeID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO trade_messages (trade_id, msg_id, sender_id, body, message_type, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(trade_id, msg_id) DO UPDATE SET
				body = excluded.body,
				status = excluded.status,
				timestamp = excluded.timestamp`,
			tradeID, m.MsgID, m.SenderID, m.Body, m.MessageType, m.Status, m.Timestamp, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}
